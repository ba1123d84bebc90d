package controllers

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gantryci/gantry/pkg/helper"
	"github.com/gantryci/gantry/pkg/workflow"
	"github.com/gantryci/gantry/server/httpserver/events"
	"github.com/gantryci/gantry/server/storage"
	"github.com/gantryci/gantry/server/storage/models"
	"github.com/gin-gonic/gin"
)

// Apply stores the posted YAML document as a workflow, replacing any
// previous version under the same name. Applying reactivates a workflow
// that was switched off.
func (ctr *Controller) Apply(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil || len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty workflow document"})
		return
	}
	wf, err := workflow.CompileBytes(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := wf.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := &models.Workflow{
		Name:    wf.Name,
		Repo:    c.Query("repo"),
		RawData: string(raw),
		Active:  true,
	}
	id, err := storage.SaveWorkflow(m)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	events.NotifyWorkflowsChanged()
	c.JSON(http.StatusOK, gin.H{
		"data":    gin.H{"workflow_id": id, "name": wf.Name},
		"message": "apply success",
	})
}

func (ctr *Controller) ListWorkflows(c *gin.Context) {
	wfs, err := storage.ListWorkflows()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wfs})
}

func (ctr *Controller) GetWorkflow(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad workflow id"})
		return
	}
	wf, err := storage.GetWorkflow(id)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": wf})
}

// DeleteWorkflow removes the workflow and its run history.
func (ctr *Controller) DeleteWorkflow(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad workflow id"})
		return
	}
	if err := storage.DeleteWorkflow(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	events.NotifyWorkflowsChanged()
	c.JSON(http.StatusOK, gin.H{"message": "workflow deleted"})
}

type activeRequest struct {
	Active bool `json:"active"`
}

// SetWorkflowActive switches hook and schedule triggering on or off
// without touching the stored document.
func (ctr *Controller) SetWorkflowActive(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad workflow id"})
		return
	}
	var req activeRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := storage.SetWorkflowActive(id, req.Active); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	events.NotifyWorkflowsChanged()
	c.JSON(http.StatusOK, gin.H{"message": "workflow updated"})
}

type dispatchRequest struct {
	Branch string `json:"branch"`
	SHA    string `json:"sha"`
}

// TriggerWorkflow fires a manual run of a workflow that declares a
// workflow_dispatch trigger.
func (ctr *Controller) TriggerWorkflow(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad workflow id"})
		return
	}
	var req dispatchRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	wf, err := storage.GetWorkflow(id)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	compiled, err := workflow.CompileBytes([]byte(wf.RawData))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ev := workflow.Event{
		Kind:       workflow.EventWorkflowDispatch,
		Repo:       wf.Repo,
		Branch:     req.Branch,
		SHA:        req.SHA,
		Sender:     c.GetString("subject"),
		ReceivedAt: helper.UnixNow(),
	}
	if !compiled.On.Matches(ev) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "workflow has no workflow_dispatch trigger"})
		return
	}
	run, err := ctr.dispatcher.Dispatch(wf, ev)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":    gin.H{"run_id": run.ID, "number": run.Number},
		"message": "run dispatched",
	})
}
