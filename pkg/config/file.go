package config

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var _ Store = &Section{}

// File is a state file holding one section per lockbox. The format is YAML
// for .yaml/.yml paths and JSON otherwise. A File with an empty path lives in
// memory only.
type File struct {
	c        *RawFileConfig
	mu       *sync.RWMutex
	filepath string
}

// RawFileConfig is the on-disk layout.
type RawFileConfig struct {
	Lockboxes map[string]*RawLockboxConfig `json:"lockboxes,omitempty" yaml:"lockboxes,omitempty"`
}

// RawLockboxConfig is the on-disk layout of one lockbox section.
type RawLockboxConfig struct {
	Classname          string                 `json:"classname,omitempty" yaml:"classname,omitempty"`
	DefaultSweepOutput string                 `json:"defaultSweepOutput,omitempty" yaml:"defaultSweepOutput,omitempty"`
	AutoRelock         *bool                  `json:"autoRelock,omitempty" yaml:"autoRelock,omitempty"`
	Outputs            []OutputConfig         `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	Inputs             map[string]InputConfig `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Sequence           []StageConfig          `json:"sequence,omitempty" yaml:"sequence,omitempty"`
}

// NewFile loads the state file at configPath. A missing or empty file yields
// an empty config.
func NewFile(configPath string) (*File, error) {
	f := &File{
		filepath: configPath,
		mu:       &sync.RWMutex{},
	}
	err := f.Load()
	if err != nil {
		return nil, err
	}

	return f, nil
}

// NewMemory returns a File that is never written to disk.
func NewMemory() *File {
	return NewFileFromConfig(nil, "")
}

// NewFileFromConfig wraps an already decoded config.
func NewFileFromConfig(c *RawFileConfig, configPath string) *File {
	if c == nil {
		c = &RawFileConfig{}
	}

	return &File{
		c:        c,
		mu:       &sync.RWMutex{},
		filepath: configPath,
	}
}

// Path returns the file path, empty for in-memory files.
func (f *File) Path() string {
	return f.filepath
}

// Section returns the section of lockbox name, creating it on first write.
func (f *File) Section(name string) Store {
	return &Section{file: f, name: name}
}

// Names returns the names of all persisted lockbox sections.
func (f *File) Names() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var ret []string
	for name := range f.c.Lockboxes {
		ret = append(ret, name)
	}
	return ret
}

func (f *File) isYAML() bool {
	switch strings.ToLower(filepath.Ext(f.filepath)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Load reads the file from disk, replacing the in-memory content.
func (f *File) Load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.filepath == "" {
		if f.c == nil {
			f.c = &RawFileConfig{}
		}
		return nil
	}

	fp, err := os.Open(f.filepath)
	if err != nil {
		if os.IsNotExist(err) {
			// If the file does not exist, return the empty config.
			// Do not make f.c a nil.
			f.c = &RawFileConfig{}
			return nil
		}
		return pkgerrors.Wrapf(err, "failed to open file %s", f.filepath)
	}
	defer func(fp *os.File) {
		err := fp.Close()
		if err != nil {
			logrus.Warnf("failed to close file %s", f.filepath)
		}
	}(fp)

	b, err := io.ReadAll(fp)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read file %s", f.filepath)
	}

	if strings.TrimSpace(string(b)) == "" {
		f.c = &RawFileConfig{}
		return nil
	}

	conf := RawFileConfig{}
	if f.isYAML() {
		err = yaml.Unmarshal(b, &conf)
	} else {
		err = json.Unmarshal(b, &conf)
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal config from file %s", f.filepath)
	}
	f.c = &conf

	return nil
}

// Save writes the file to disk. In-memory files are not written. Saves are
// serialized since they share the temporary file.
func (f *File) Save() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.c == nil {
		return pkgerrors.New("config is nil")
	}
	if f.filepath == "" {
		return nil
	}

	var b []byte
	var err error
	if f.isYAML() {
		b, err = yaml.Marshal(f.c)
	} else {
		b, err = json.MarshalIndent(f.c, "", "  ")
	}
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to encode config to file %s", f.filepath)
	}

	// Write to a sibling file and rename so a crash never leaves a
	// truncated state file behind.
	tmp := f.filepath + ".tmp"
	if err := os.WriteFile(tmp, b, 0644); err != nil {
		return pkgerrors.Wrapf(err, "failed to write file %s", tmp)
	}
	if err := os.Rename(tmp, f.filepath); err != nil {
		return pkgerrors.Wrapf(err, "failed to replace file %s", f.filepath)
	}

	return nil
}

// Section is the view of one lockbox inside a File.
type Section struct {
	file *File
	name string
}

// read returns the raw section or nil. Callers hold the file lock.
func (s *Section) read() *RawLockboxConfig {
	if s.file.c == nil || s.file.c.Lockboxes == nil {
		return nil
	}
	return s.file.c.Lockboxes[s.name]
}

// write returns the raw section, creating it. Callers hold the write lock.
func (s *Section) write() *RawLockboxConfig {
	if s.file.c == nil {
		s.file.c = &RawFileConfig{}
	}
	if s.file.c.Lockboxes == nil {
		s.file.c.Lockboxes = make(map[string]*RawLockboxConfig)
	}
	c, ok := s.file.c.Lockboxes[s.name]
	if !ok {
		c = &RawLockboxConfig{}
		s.file.c.Lockboxes[s.name] = c
	}
	return c
}

func (s *Section) Classname() string {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	if c := s.read(); c != nil {
		return c.Classname
	}
	return ""
}

func (s *Section) DefaultSweepOutput() string {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	if c := s.read(); c != nil {
		return c.DefaultSweepOutput
	}
	return ""
}

func (s *Section) AutoRelock() bool {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	if c := s.read(); c != nil && c.AutoRelock != nil {
		return *c.AutoRelock
	}
	return false
}

func (s *Section) SetClassname(v string) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	s.write().Classname = v
}

func (s *Section) SetDefaultSweepOutput(v string) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	s.write().DefaultSweepOutput = v
}

func (s *Section) SetAutoRelock(b bool) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	s.write().AutoRelock = &b
}

func (s *Section) OutputNames() []string {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	c := s.read()
	if c == nil {
		return nil
	}
	ret := make([]string, 0, len(c.Outputs))
	for _, o := range c.Outputs {
		ret = append(ret, o.Name)
	}
	return ret
}

func (s *Section) Output(name string) (OutputConfig, bool) {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	c := s.read()
	if c == nil {
		return OutputConfig{}, false
	}
	for _, o := range c.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return OutputConfig{}, false
}

func (s *Section) SetOutput(name string, oc OutputConfig) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	oc.Name = name
	c := s.write()
	for i := range c.Outputs {
		if c.Outputs[i].Name == name {
			c.Outputs[i] = oc
			return
		}
	}
	c.Outputs = append(c.Outputs, oc)
}

func (s *Section) RenameOutput(old, new string) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	c := s.read()
	if c == nil || old == new {
		return
	}
	idx := -1
	for i := range c.Outputs {
		if c.Outputs[i].Name == old {
			idx = i
		}
	}
	if idx < 0 {
		return
	}
	// Drop a stale section already using the new name.
	kept := c.Outputs[:0]
	for i, o := range c.Outputs {
		if o.Name == new && i != idx {
			continue
		}
		if i == idx {
			o.Name = new
		}
		kept = append(kept, o)
	}
	c.Outputs = kept
}

func (s *Section) DeleteOutput(name string) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	c := s.read()
	if c == nil {
		return
	}
	kept := c.Outputs[:0]
	for _, o := range c.Outputs {
		if o.Name != name {
			kept = append(kept, o)
		}
	}
	c.Outputs = kept
}

func (s *Section) Input(name string) (InputConfig, bool) {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	c := s.read()
	if c == nil || c.Inputs == nil {
		return InputConfig{}, false
	}
	ic, ok := c.Inputs[name]
	if ok && ic.Calibration != nil {
		cal := *ic.Calibration
		ic.Calibration = &cal
	}
	return ic, ok
}

func (s *Section) SetInput(name string, ic InputConfig) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	c := s.write()
	if c.Inputs == nil {
		c.Inputs = make(map[string]InputConfig)
	}
	c.Inputs[name] = ic
}

func (s *Section) Stages() []StageConfig {
	s.file.mu.RLock()
	defer s.file.mu.RUnlock()

	c := s.read()
	if c == nil {
		return nil
	}
	ret := make([]StageConfig, 0, len(c.Sequence))
	for _, st := range c.Sequence {
		ret = append(ret, st.Copy())
	}
	return ret
}

func (s *Section) SetStages(stages []StageConfig) {
	s.file.mu.Lock()
	defer s.file.mu.Unlock()

	c := s.write()
	c.Sequence = make([]StageConfig, 0, len(stages))
	for _, st := range stages {
		c.Sequence = append(c.Sequence, st.Copy())
	}
}

func (s *Section) Save() error {
	return s.file.Save()
}

// LogrusFields summarizes the section for logging.
func (s *Section) LogrusFields() logrus.Fields {
	return logrus.Fields{
		"lockbox":            s.name,
		"classname":          s.Classname(),
		"defaultSweepOutput": s.DefaultSweepOutput(),
		"autoRelock":         s.AutoRelock(),
		"outputs":            s.OutputNames(),
		"stages":             len(s.Stages()),
	}
}
