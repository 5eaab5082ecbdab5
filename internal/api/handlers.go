package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"kbtasks/internal/poller"
	"kbtasks/internal/store"
	"kbtasks/internal/task"
)

type addTasksRequest struct {
	Tasks []task.Task `json:"tasks"`
}

type trackingRequest struct {
	KBID  string `json:"kb_id" binding:"required"`
	DocID string `json:"doc_id" binding:"required"`
}

type groupResponse struct {
	GroupID  string             `json:"group_id"`
	Tasks    []task.Task        `json:"tasks"`
	Progress task.GroupProgress `json:"progress"`
}

type taskResponse struct {
	task.Task
	StatusLabel string `json:"status_label"`
	TypeLabel   string `json:"type_label"`
	Percent     int    `json:"percent"`
}

type API struct {
	store  *store.Store
	poller *poller.Poller
}

func NewAPI(s *store.Store, p *poller.Poller) *API {
	return &API{store: s, poller: p}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.AddTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.PATCH("/tasks/:id", a.UpdateTask)
		api.DELETE("/tasks/:id", a.RemoveTask)
		api.DELETE("/tasks", a.ClearTasks)
		api.GET("/groups/:id", a.GetGroup)
		api.GET("/knowledge-bases/:kb/documents/:doc/task", a.GetTaskByDocument)
		api.POST("/tracking", a.StartTracking)
		api.GET("/tracking/:kb", a.ListTracking)
		api.DELETE("/tracking/:kb/:doc", a.StopTracking)
		api.POST("/maintenance/cleanup", a.Cleanup)
	}
}

// AddTasks accepts either {"tasks": [...]} or a single task object.
func (a *API) AddTasks(c *gin.Context) {
	var raw map[string]any
	if err := c.ShouldBindBodyWithJSON(&raw); err != nil {
		log.Warn().Err(err).Msg("invalid add tasks request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	var batch []task.Task
	if _, ok := raw["tasks"]; ok {
		var req addTasksRequest
		if err := c.ShouldBindBodyWithJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		batch = req.Tasks
	} else {
		var single task.Task
		if err := c.ShouldBindBodyWithJSON(&single); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		batch = []task.Task{single}
	}
	if len(batch) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no tasks provided"})
		return
	}
	// tasks submitted together form one group unless the caller chose one
	groupID := uuid.NewString()
	for i := range batch {
		if batch[i].GroupID == "" {
			batch[i].GroupID = groupID
		}
		if batch[i].Status == "" {
			batch[i].Status = task.StatusPending
		}
	}

	added := a.store.AddTasks(batch)
	log.Info().Int("count", len(added)).Str("group_id", added[0].GroupID).Msg("tasks added")
	c.JSON(http.StatusCreated, gin.H{"tasks": toTaskResponses(added)})
}

func (a *API) GetTask(c *gin.Context) {
	id := c.Param("id")
	if found, ok := a.store.GetTask(id); ok {
		c.JSON(http.StatusOK, toTaskResponse(found))
		return
	}
	log.Warn().Str("task_id", id).Msg("task not found on get")
	c.JSON(http.StatusNotFound, gin.H{"error": task.ErrTaskNotFound.Error()})
}

// UpdateTask applies a partial update, typically progress from the executor.
func (a *API) UpdateTask(c *gin.Context) {
	id := c.Param("id")
	var patch store.Patch
	if err := c.ShouldBindJSON(&patch); err != nil {
		log.Warn().Str("task_id", id).Err(err).Msg("invalid task patch")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	var check func(task.Task) error
	if patch.Status != nil {
		// checked under the store lock so a concurrent poll cannot slip in between
		check = func(current task.Task) error {
			return task.CheckTransition(current.Status, *patch.Status)
		}
	}
	updated, err := a.store.UpdateTaskChecked(id, patch, check)
	var transitionErr *task.TransitionError
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": task.ErrTaskNotFound.Error()})
		return
	case errors.As(err, &transitionErr):
		log.Warn().Str("task_id", id).Err(err).Msg("rejected task patch")
		c.JSON(http.StatusConflict, gin.H{
			"error": task.ErrInvalidTransition.Error(),
			"from":  transitionErr.From,
			"to":    transitionErr.To,
		})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(updated))
}

func (a *API) RemoveTask(c *gin.Context) {
	id := c.Param("id")
	a.store.RemoveTask(id)
	log.Info().Str("task_id", id).Msg("task removed")
	c.Status(http.StatusNoContent)
}

func (a *API) ClearTasks(c *gin.Context) {
	a.store.ClearTasks()
	log.Info().Msg("all tasks cleared")
	c.Status(http.StatusNoContent)
}

func (a *API) GetGroup(c *gin.Context) {
	groupID := c.Param("id")
	tasks := a.store.GetTasksByGroupID(groupID)
	if len(tasks) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "group not found"})
		return
	}
	c.JSON(http.StatusOK, groupResponse{
		GroupID:  groupID,
		Tasks:    tasks,
		Progress: task.ComputeGroupProgress(tasks),
	})
}

func (a *API) GetTaskByDocument(c *gin.Context) {
	kbID, docID := c.Param("kb"), c.Param("doc")
	found, ok := a.store.GetTaskByDocID(kbID, docID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": task.ErrTaskNotFound.Error()})
		return
	}
	c.JSON(http.StatusOK, toTaskResponse(found))
}

func (a *API) StartTracking(c *gin.Context) {
	var req trackingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kb_id and doc_id are required"})
		return
	}
	a.poller.StartTracking(req.KBID, req.DocID)
	c.JSON(http.StatusAccepted, gin.H{"kb_id": req.KBID, "watched": a.poller.Watched(req.KBID)})
}

func (a *API) ListTracking(c *gin.Context) {
	kbID := c.Param("kb")
	c.JSON(http.StatusOK, gin.H{"kb_id": kbID, "watched": a.poller.Watched(kbID)})
}

func (a *API) StopTracking(c *gin.Context) {
	a.poller.StopTracking(c.Param("kb"), c.Param("doc"))
	c.Status(http.StatusNoContent)
}

func (a *API) Cleanup(c *gin.Context) {
	removed := a.store.Cleanup()
	log.Info().Int("removed", removed).Msg("manual retention sweep")
	c.JSON(http.StatusOK, gin.H{"removed": removed, "remaining": a.store.Len()})
}

func toTaskResponse(t task.Task) taskResponse {
	return taskResponse{
		Task:        t,
		StatusLabel: task.StatusLabel(t.Status),
		TypeLabel:   task.TypeLabel(t.Type),
		Percent:     task.ComputeTaskProgress(t),
	}
}

func toTaskResponses(tasks []task.Task) []taskResponse {
	out := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		out[i] = toTaskResponse(t)
	}
	return out
}
