package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/mizuno/missiond/internal/model"
	"github.com/mizuno/missiond/internal/refresh"
	"github.com/mizuno/missiond/internal/store"
	"github.com/mizuno/missiond/internal/taskq"
	"github.com/mizuno/missiond/internal/uds"
	"github.com/mizuno/missiond/internal/watchdog"
)

// MissionCreateParams is the request payload for the mission_create command.
type MissionCreateParams struct {
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Type            string          `json:"type,omitempty"` // daily|weekly|simple|persistent, default simple
	IsCounterBased  bool            `json:"is_counter_based,omitempty"`
	TargetCount     int             `json:"target_count,omitempty"`
	Subtasks        []model.Subtask `json:"subtasks,omitempty"`
	LinkedMasteryID string          `json:"linked_mastery_id,omitempty"`
	MasteryValue    float64         `json:"mastery_value,omitempty"`
	NotificationID  *int            `json:"notification_id,omitempty"`
}

// MissionListParams is the request payload for the mission_list command.
type MissionListParams struct {
	IncludeDeleted bool `json:"include_deleted,omitempty"`
}

// MissionIncrementParams is the request payload for mission_increment.
// An empty Subtask increments the mission counter itself.
type MissionIncrementParams struct {
	ID      string `json:"id"`
	Subtask string `json:"subtask,omitempty"`
	N       int    `json:"n,omitempty"` // default 1
}

// MissionIDParams addresses a single mission by id.
type MissionIDParams struct {
	ID string `json:"id"`
}

// StatusPayload is the response body of the status command.
type StatusPayload struct {
	Daemon   DaemonInfo     `json:"daemon"`
	Missions store.Stats    `json:"missions"`
	Queue    taskq.Stats    `json:"queue"`
	Refresh  refresh.Stats  `json:"refresh"`
	Watchdog watchdog.Stats `json:"watchdog"`
}

// DaemonInfo describes the running process.
type DaemonInfo struct {
	PID       int    `json:"pid"`
	Version   string `json:"version"`
	Home      string `json:"home"`
	UptimeSec int64  `json:"uptimeSec"`
}

// registerHandlers registers UDS request handlers.
func (d *Daemon) registerHandlers() {
	d.server.Handle("ping", func(req *uds.Request) *uds.Response {
		return uds.SuccessResponse(map[string]string{"status": "ok"})
	})

	d.server.Handle("status", d.handleStatus)
	d.server.Handle("refresh", d.handleRefresh)
	d.server.Handle("check", d.handleCheck)

	d.server.Handle("mission_create", d.handleMissionCreate)
	d.server.Handle("mission_list", d.handleMissionList)
	d.server.Handle("mission_increment", d.handleMissionIncrement)
	d.server.Handle("mission_complete", d.handleMissionComplete)
	d.server.Handle("mission_delete", d.handleMissionDelete)

	d.server.Handle("shutdown", func(req *uds.Request) *uds.Response {
		d.logger.Infof("shutdown requested via UDS")
		go d.Shutdown()
		return uds.SuccessResponse(map[string]string{"status": "shutdown_accepted"})
	})
}

func (d *Daemon) handleStatus(req *uds.Request) *uds.Response {
	return uds.SuccessResponse(StatusPayload{
		Daemon: DaemonInfo{
			PID:       os.Getpid(),
			Version:   Version,
			Home:      d.home,
			UptimeSec: int64(time.Since(d.started).Seconds()),
		},
		Missions: d.store.Statistics(),
		Queue:    d.queue.Stats(),
		Refresh:  d.refresher.Stats(),
		Watchdog: d.dog.Stats(),
	})
}

func (d *Daemon) handleRefresh(req *uds.Request) *uds.Response {
	result := d.refresher.Tick(time.Now().In(d.loc))
	return uds.SuccessResponse(result)
}

func (d *Daemon) handleCheck(req *uds.Request) *uds.Response {
	report := d.dog.RunOnce()
	return uds.SuccessResponse(report)
}

func (d *Daemon) handleMissionCreate(req *uds.Request) *uds.Response {
	var params MissionCreateParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.Type == "" {
		params.Type = string(model.MissionTypeSimple)
	}

	m, err := d.store.Create(store.CreateParams{
		Title:           params.Title,
		Description:     params.Description,
		Type:            model.MissionType(params.Type),
		IsCounterBased:  params.IsCounterBased,
		TargetCount:     params.TargetCount,
		Subtasks:        params.Subtasks,
		LinkedMasteryID: params.LinkedMasteryID,
		MasteryValue:    params.MasteryValue,
		NotificationID:  params.NotificationID,
	})
	if err != nil {
		return storeErrorResponse(err)
	}
	d.resyncNotification(m)
	return uds.SuccessResponse(m)
}

func (d *Daemon) handleMissionList(req *uds.Request) *uds.Response {
	var params MissionListParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
		}
	}

	payload := map[string]any{
		"missions": d.store.ListAll(),
	}
	if params.IncludeDeleted {
		payload["deleted"] = d.store.ListDeleted()
	}
	return uds.SuccessResponse(payload)
}

func (d *Daemon) handleMissionIncrement(req *uds.Request) *uds.Response {
	var params MissionIncrementParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.ID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "id is required")
	}
	n := params.N
	if n == 0 {
		n = 1
	}

	var (
		m   model.Mission
		err error
	)
	if params.Subtask != "" {
		m, err = d.store.IncrementSubtask(params.ID, params.Subtask, n)
	} else {
		m, err = d.store.Increment(params.ID, n)
	}
	if err != nil {
		return storeErrorResponse(err)
	}
	d.resyncNotification(m)
	return uds.SuccessResponse(m)
}

func (d *Daemon) handleMissionComplete(req *uds.Request) *uds.Response {
	var params MissionIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.ID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "id is required")
	}

	m, err := d.store.Complete(params.ID)
	if err != nil {
		return storeErrorResponse(err)
	}
	d.resyncNotification(m)
	return uds.SuccessResponse(m)
}

func (d *Daemon) handleMissionDelete(req *uds.Request) *uds.Response {
	var params MissionIDParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return uds.ErrorResponse(uds.ErrCodeValidation, fmt.Sprintf("invalid params: %v", err))
	}
	if params.ID == "" {
		return uds.ErrorResponse(uds.ErrCodeValidation, "id is required")
	}

	m, err := d.store.Delete(params.ID)
	if err != nil {
		return storeErrorResponse(err)
	}
	d.dropNotification(m.NotificationID)
	return uds.SuccessResponse(m)
}

// storeErrorResponse maps store errors onto IPC error codes. Mutations are
// validated up front and persistence failures are swallowed inside the
// store, so anything else surfacing here is a bad request.
func storeErrorResponse(err error) *uds.Response {
	if errors.Is(err, store.ErrNotFound) {
		return uds.ErrorResponse(uds.ErrCodeNotFound, err.Error())
	}
	return uds.ErrorResponse(uds.ErrCodeValidation, err.Error())
}

// resyncNotification re-renders a mutated mission's notification. Rendering
// can shell out, so it runs on the queue rather than the request path.
func (d *Daemon) resyncNotification(m model.Mission) {
	d.queue.Schedule(taskq.PriorityLow, func(ctx context.Context) error {
		_, err := d.sink.Render(m)
		return err
	})
}

// dropNotification cancels a deleted mission's notification in the background.
func (d *Daemon) dropNotification(notificationID int) {
	d.queue.Schedule(taskq.PriorityLow, func(ctx context.Context) error {
		return d.sink.Cancel(notificationID)
	})
}
