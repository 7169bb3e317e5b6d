package client

import (
	"encoding/json"
	"net/url"
	"strconv"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/lockbox"
)

// ScheduleStatus mirrors the daemon calibration schedule status.
type ScheduleStatus struct {
	Cron    string     `json:"cron"`
	Running bool       `json:"running"`
	NextRun *time.Time `json:"nextRun,omitempty"`
}

// RelockHistory mirrors the daemon relock history of a lockbox.
type RelockHistory struct {
	Recent  int      `json:"recent"`
	Last    string   `json:"last,omitempty"`
	Records []string `json:"records"`
}

// PIDStatus describes the PID pool of the instrument.
type PIDStatus struct {
	Size      int               `json:"size"`
	Available int               `json:"available"`
	Owners    map[string]string `json:"owners"`
}

func lockboxPath(name string, elem ...string) string {
	p := "/lockboxes/" + url.PathEscape(name)
	for _, e := range elem {
		p += "/" + url.PathEscape(e)
	}
	return p
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func decodeJSON[T any](ret string, what string) (T, error) {
	var v T
	if err := json.Unmarshal([]byte(ret), &v); err != nil {
		return v, pkgerrors.Wrapf(err, "failed to unmarshal %s", what)
	}
	return v, nil
}

// decodeStatus decodes a lockbox status answered by a mutating call.
func decodeStatus(ret string, err error, what string) (*lockbox.Status, error) {
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to %s", what)
	}
	st, err := decodeJSON[lockbox.Status](ret, "lockbox status")
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) GetVersion() (string, error) {
	ret, err := c.Get("/version")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to get version")
	}
	return decodeJSON[string](ret, "version")
}

func (c *Client) GetModels() ([]lockbox.ModelInfo, error) {
	ret, err := c.Get("/models")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get models")
	}
	return decodeJSON[[]lockbox.ModelInfo](ret, "models")
}

func (c *Client) GetPIDs() (*PIDStatus, error) {
	ret, err := c.Get("/pids")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get pids")
	}
	st, err := decodeJSON[PIDStatus](ret, "pids")
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// ===== Lockboxes =====

func (c *Client) GetLockboxes() ([]lockbox.Status, error) {
	ret, err := c.Get("/lockboxes")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get lockboxes")
	}
	return decodeJSON[[]lockbox.Status](ret, "lockboxes")
}

func (c *Client) GetLockbox(name string) (*lockbox.Status, error) {
	ret, err := c.Get(lockboxPath(name))
	return decodeStatus(ret, err, "get lockbox "+name)
}

func (c *Client) GetRelocks(name string) (*RelockHistory, error) {
	ret, err := c.Get(lockboxPath(name, "relocks"))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get relocks of %s", name)
	}
	h, err := decodeJSON[RelockHistory](ret, "relock history")
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (c *Client) SetState(name, state string) (*lockbox.Status, error) {
	ret, err := c.Put(lockboxPath(name, "state"), jsonString(state))
	return decodeStatus(ret, err, "set state of "+name)
}

func (c *Client) Lock(name string) (*lockbox.Status, error) {
	ret, err := c.Post(lockboxPath(name, "lock"), "")
	return decodeStatus(ret, err, "lock "+name)
}

func (c *Client) Unlock(name string) (*lockbox.Status, error) {
	ret, err := c.Post(lockboxPath(name, "unlock"), "")
	return decodeStatus(ret, err, "unlock "+name)
}

func (c *Client) Sweep(name string) (*lockbox.Status, error) {
	ret, err := c.Post(lockboxPath(name, "sweep"), "")
	return decodeStatus(ret, err, "sweep "+name)
}

func (c *Client) GotoNext(name string) (*lockbox.Status, error) {
	ret, err := c.Post(lockboxPath(name, "next"), "")
	return decodeStatus(ret, err, "advance "+name)
}

func (c *Client) Calibrate(name string) (*lockbox.Status, error) {
	ret, err := c.Post(lockboxPath(name, "calibrate"), "")
	return decodeStatus(ret, err, "calibrate "+name)
}

func (c *Client) SetClassname(name, classname string) (*lockbox.Status, error) {
	ret, err := c.Put(lockboxPath(name, "classname"), jsonString(classname))
	return decodeStatus(ret, err, "set model of "+name)
}

func (c *Client) SetDefaultSweepOutput(name, output string) (*lockbox.Status, error) {
	ret, err := c.Put(lockboxPath(name, "default-sweep-output"), jsonString(output))
	return decodeStatus(ret, err, "set default sweep output of "+name)
}

func (c *Client) SetAutoRelock(name string, enabled bool) (*lockbox.Status, error) {
	ret, err := c.Put(lockboxPath(name, "auto-relock"), strconv.FormatBool(enabled))
	return decodeStatus(ret, err, "set auto-relock of "+name)
}

// ===== Outputs =====

// AddOutput adds an output and returns its name.
func (c *Client) AddOutput(name string) (string, error) {
	ret, err := c.Post(lockboxPath(name, "outputs"), "")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to add output to %s", name)
	}
	return decodeJSON[string](ret, "output name")
}

func (c *Client) ConfigureOutput(name, output string, oc config.OutputConfig) (*lockbox.Status, error) {
	b, err := json.Marshal(oc)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put(lockboxPath(name, "outputs", output), string(b))
	return decodeStatus(ret, err, "configure output "+output)
}

func (c *Client) RenameOutput(name, output, newName string) (*lockbox.Status, error) {
	ret, err := c.Put(lockboxPath(name, "outputs", output, "name"), jsonString(newName))
	return decodeStatus(ret, err, "rename output "+output)
}

func (c *Client) RemoveOutput(name, output string, allowRemoveLast bool) (*lockbox.Status, error) {
	p := lockboxPath(name, "outputs", output)
	if allowRemoveLast {
		p += "?allowRemoveLast=true"
	}
	ret, err := c.Delete(p)
	return decodeStatus(ret, err, "remove output "+output)
}

// ===== Stages =====

// AddStage appends a stage and returns its name.
func (c *Client) AddStage(name string) (string, error) {
	ret, err := c.Post(lockboxPath(name, "stages"), "")
	if err != nil {
		return "", pkgerrors.Wrapf(err, "failed to add stage to %s", name)
	}
	return decodeJSON[string](ret, "stage name")
}

func (c *Client) ConfigureStage(name, stage string, u lockbox.StageUpdate) (*lockbox.Status, error) {
	b, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	ret, err := c.Put(lockboxPath(name, "stages", stage), string(b))
	return decodeStatus(ret, err, "configure stage "+stage)
}

func (c *Client) RenameStage(name, stage, newName string) (*lockbox.Status, error) {
	ret, err := c.Put(lockboxPath(name, "stages", stage, "name"), jsonString(newName))
	return decodeStatus(ret, err, "rename stage "+stage)
}

func (c *Client) RemoveStage(name, stage string) (*lockbox.Status, error) {
	ret, err := c.Delete(lockboxPath(name, "stages", stage))
	return decodeStatus(ret, err, "remove stage "+stage)
}

// ===== Calibration schedule =====

func (c *Client) GetSchedule() (*ScheduleStatus, error) {
	ret, err := c.Get("/calibration/schedule")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to get calibration schedule")
	}
	st, err := decodeJSON[ScheduleStatus](ret, "calibration schedule")
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// Schedule sets the calibration cron expression and returns the next runs.
// An empty expression disables scheduled calibration.
func (c *Client) Schedule(cronExpr string) ([]time.Time, error) {
	ret, err := c.Put("/calibration/schedule", jsonString(cronExpr))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to schedule calibration")
	}
	return decodeJSON[[]time.Time](ret, "next runs")
}

func (c *Client) SkipSchedule() (*ScheduleStatus, error) {
	ret, err := c.Post("/calibration/schedule/skip", "")
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to skip calibration")
	}
	st, err := decodeJSON[ScheduleStatus](ret, "calibration schedule")
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) PostponeSchedule(d time.Duration) (*ScheduleStatus, error) {
	ret, err := c.Post("/calibration/schedule/postpone", jsonString(d.String()))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to postpone calibration")
	}
	st, err := decodeJSON[ScheduleStatus](ret, "calibration schedule")
	if err != nil {
		return nil, err
	}
	return &st, nil
}
