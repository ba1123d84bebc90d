package controllers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gantryci/gantry/server/storage"
	"github.com/gin-gonic/gin"
)

func (ctr *Controller) ListRuns(c *gin.Context) {
	var workflowID int64
	if raw := c.Query("workflow_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad workflow id"})
			return
		}
		workflowID = id
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad limit"})
			return
		}
		limit = n
	}
	runs, err := storage.ListRuns(workflowID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs})
}

// GetRun returns the run document plus the node that executed it. The
// node lives in its own column, runners report it after dispatch.
func (ctr *Controller) GetRun(c *gin.Context) {
	run, err := storage.GetRun(c.Param("id"))
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	node, err := storage.GetRunNode(run.ID)
	if err != nil {
		ctr.log.WithError(err).Warn("read run node")
	}
	c.JSON(http.StatusOK, gin.H{"data": run, "node": node})
}

// CancelRun asks the runner holding the run to stop it. Terminal runs are
// left alone.
func (ctr *Controller) CancelRun(c *gin.Context) {
	run, err := storage.GetRun(c.Param("id"))
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if run.Status.Terminal() {
		c.JSON(http.StatusConflict, gin.H{"error": "run already finished"})
		return
	}
	if err := ctr.dispatcher.Cancel(run.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "cancel requested"})
}

// RerunRun dispatches a fresh run of the same workflow for the same
// event. The workflow document may have changed since; the rerun uses
// whatever is stored now.
func (ctr *Controller) RerunRun(c *gin.Context) {
	run, err := storage.GetRun(c.Param("id"))
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	wf, err := storage.GetWorkflow(run.WorkflowID)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusGone, gin.H{"error": "workflow no longer exists"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	fresh, err := ctr.dispatcher.Dispatch(wf, run.Event)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":    gin.H{"run_id": fresh.ID, "number": fresh.Number},
		"message": "run dispatched",
	})
}

// RunLogs returns the stored log records of a run, oldest first. A cell
// query parameter narrows it to one matrix cell.
func (ctr *Controller) RunLogs(c *gin.Context) {
	run, err := storage.GetRun(c.Param("id"))
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	cellID := c.Query("cell")
	lines := make([]json.RawMessage, 0)
	for _, jr := range run.Jobs {
		for _, cr := range jr.Cells {
			if cellID != "" && cr.ID != cellID {
				continue
			}
			records, err := ctr.logs.ReadAll(run.ID, cr.ID)
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			for _, rec := range records {
				lines = append(lines, json.RawMessage(rec))
			}
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": lines})
}

func (ctr *Controller) ListRunners(c *gin.Context) {
	runners, err := storage.ListRunners()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runners})
}
