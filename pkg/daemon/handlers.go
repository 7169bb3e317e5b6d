package daemon

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/charlie0129/lockbox/pkg/config"
	"github.com/charlie0129/lockbox/pkg/lockbox"
	"github.com/charlie0129/lockbox/pkg/version"
)

// RelockHistory is the response of GET /lockboxes/:name/relocks.
type RelockHistory struct {
	Recent  int      `json:"recent"`
	Last    string   `json:"last,omitempty"`
	Records []string `json:"records"`
}

func getVersion(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, version.Version)
}

func getModels(c *gin.Context) {
	var ret []lockbox.ModelInfo
	for _, name := range lockbox.Models() {
		m, err := lockbox.LookupModel(name)
		if err != nil {
			continue
		}
		ret = append(ret, m.Info())
	}
	c.IndentedJSON(http.StatusOK, ret)
}

func getPIDs(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, gin.H{
		"size":      pool.Size(),
		"available": pool.Available(),
		"owners":    pool.Owners(),
	})
}

func getEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	c.Stream(func(_ io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

func getSchedule(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, getScheduleStatus())
}

func setSchedule(c *gin.Context) {
	var cronExpr string
	if err := c.BindJSON(&cronExpr); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	nextRuns, err := schedule(cronExpr)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	c.IndentedJSON(http.StatusCreated, nextRuns)
}

func skipSchedule(c *gin.Context) {
	if err := skipNextSchedule(); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, getScheduleStatus())
}

func postponeSchedule(c *gin.Context) {
	var s string
	if err := c.BindJSON(&s); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	if err := postpone(d); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, getScheduleStatus())
}

func getLockboxes(c *gin.Context) {
	lbs := inst.Lockboxes()
	ret := make([]lockbox.Status, 0, len(lbs))
	for _, lb := range lbs {
		ret = append(ret, lb.Status())
	}
	c.IndentedJSON(http.StatusOK, ret)
}

// currentLockbox resolves :name. It aborts the request on failure.
func currentLockbox(c *gin.Context) (*lockbox.Lockbox, bool) {
	lb, err := inst.Lockbox(c.Param("name"))
	if err != nil {
		abortWithLockboxError(c, err)
		return nil, false
	}
	return lb, true
}

func getLockbox(c *gin.Context) {
	lb, ok := currentLockbox(c)
	if !ok {
		return
	}
	c.IndentedJSON(http.StatusOK, lb.Status())
}

func getRelocks(c *gin.Context) {
	lb, ok := currentLockbox(c)
	if !ok {
		return
	}
	rec := relockRecorder(lb.Name())
	ret := RelockHistory{
		Recent:  rec.GetRecordsIn(relockWindow),
		Records: rec.GetRecordsString(),
	}
	if last := rec.GetLastRecord(); !last.IsZero() {
		ret.Last = last.Format(time.RFC3339)
	}
	c.IndentedJSON(http.StatusOK, ret)
}

// transition runs op on the lockbox and answers with its new status.
func transition(c *gin.Context, what string, op func(lb *lockbox.Lockbox) error) {
	lb, ok := currentLockbox(c)
	if !ok {
		return
	}
	if err := op(lb); err != nil {
		logrus.WithError(err).WithField("lockbox", lb.Name()).Errorf("%s failed", what)
		abortWithLockboxError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, lb.Status())
}

func setState(c *gin.Context) {
	var s string
	if err := c.BindJSON(&s); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	transition(c, "set state", func(lb *lockbox.Lockbox) error {
		return lb.SetState(lockbox.State(s))
	})
}

func lockLockbox(c *gin.Context) {
	transition(c, "lock", (*lockbox.Lockbox).Lock)
}

func unlockLockbox(c *gin.Context) {
	transition(c, "unlock", (*lockbox.Lockbox).Unlock)
}

func sweepLockbox(c *gin.Context) {
	transition(c, "sweep", (*lockbox.Lockbox).Sweep)
}

func gotoNext(c *gin.Context) {
	transition(c, "goto next", (*lockbox.Lockbox).GotoNext)
}

func calibrateLockbox(c *gin.Context) {
	transition(c, "calibrate", (*lockbox.Lockbox).CalibrateAll)
}

func setClassname(c *gin.Context) {
	var classname string
	if err := c.BindJSON(&classname); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}

	lb, err := inst.SwitchModel(c.Param("name"), classname)
	if err != nil {
		abortWithLockboxError(c, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"lockbox":   lb.Name(),
		"classname": lb.Classname(),
	}).Info("model set")

	c.IndentedJSON(http.StatusCreated, lb.Status())
}

func setDefaultSweepOutput(c *gin.Context) {
	var output string
	if err := c.BindJSON(&output); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	transition(c, "set default sweep output", func(lb *lockbox.Lockbox) error {
		return lb.SetDefaultSweepOutput(output)
	})
}

func setAutoRelock(c *gin.Context) {
	var enabled bool
	if err := c.BindJSON(&enabled); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	transition(c, "set auto-relock", func(lb *lockbox.Lockbox) error {
		if err := lb.SetAutoRelock(enabled); err != nil {
			return err
		}
		// Start counting relocks afresh.
		relockRecorder(lb.Name()).ClearRecords()
		return nil
	})
}

func addOutput(c *gin.Context) {
	lb, ok := currentLockbox(c)
	if !ok {
		return
	}
	o, err := lb.AddOutput()
	if err != nil {
		abortWithLockboxError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, o.Name())
}

func configureOutput(c *gin.Context) {
	var oc config.OutputConfig
	if err := c.BindJSON(&oc); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	transition(c, "configure output", func(lb *lockbox.Lockbox) error {
		return lb.ConfigureOutput(c.Param("output"), oc)
	})
}

func renameOutput(c *gin.Context) {
	var newName string
	if err := c.BindJSON(&newName); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	transition(c, "rename output", func(lb *lockbox.Lockbox) error {
		return lb.RenameOutput(c.Param("output"), newName)
	})
}

func removeOutput(c *gin.Context) {
	allowRemoveLast := false
	if v := c.Query("allowRemoveLast"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid allowRemoveLast %q: %w", v, err))
			return
		}
		allowRemoveLast = b
	}
	transition(c, "remove output", func(lb *lockbox.Lockbox) error {
		return lb.RemoveOutput(c.Param("output"), allowRemoveLast)
	})
}

func addStage(c *gin.Context) {
	lb, ok := currentLockbox(c)
	if !ok {
		return
	}
	st, err := lb.AddStage()
	if err != nil {
		abortWithLockboxError(c, err)
		return
	}
	c.IndentedJSON(http.StatusCreated, st.Name())
}

func configureStage(c *gin.Context) {
	var u lockbox.StageUpdate
	if err := c.BindJSON(&u); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	transition(c, "configure stage", func(lb *lockbox.Lockbox) error {
		return lb.UpdateStage(c.Param("stage"), u)
	})
}

func renameStage(c *gin.Context) {
	var newName string
	if err := c.BindJSON(&newName); err != nil {
		abortWithError(c, http.StatusBadRequest, err)
		return
	}
	transition(c, "rename stage", func(lb *lockbox.Lockbox) error {
		return lb.RenameStage(c.Param("stage"), newName)
	})
}

func removeStage(c *gin.Context) {
	transition(c, "remove stage", func(lb *lockbox.Lockbox) error {
		return lb.RemoveStage(c.Param("stage"))
	})
}
