package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"budget/internal/middleware/trace"
	"budget/internal/services"
)

type notificationInfo struct {
	ReportID            int64  `json:"reportId"`
	NotificationMessage string `json:"notificationMessage"`
}

type notificationList struct {
	NotificationList []notificationInfo `json:"notificationList"`
}

type reportResponse struct {
	ReportMessage string `json:"reportMessage"`
}

type batchResponse struct {
	Queued     bool       `json:"queued"`
	ReadCount  int        `json:"readCount"`
	WriteCount int        `json:"writeCount"`
	SkipCount  int        `json:"skipCount"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	reports, err := s.deps.Reports.Notifications(r.Context(), p.UserID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	out := notificationList{NotificationList: make([]notificationInfo, 0, len(reports))}
	for _, rep := range reports {
		out.NotificationList = append(out.NotificationList, notificationInfo{ReportID: rep.ID, NotificationMessage: rep.Notification})
	}
	NewResponse().Data(out).Write(w)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	reportID, err := pathID(chi.URLParam(r, "reportID"), "reportId")
	if err != nil {
		WriteError(w, r, err)
		return
	}
	rep, err := s.deps.Reports.Report(r.Context(), p.UserID, reportID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	NewResponse().Data(reportResponse{ReportMessage: rep.Message}).Write(w)
}

func (s *Server) handleRunReportBatch(w http.ResponseWriter, r *http.Request) {
	s.runBatch(w, r, s.deps.Reports.RunReportBatch)
}

func (s *Server) handleRunDeadLetterBatch(w http.ResponseWriter, r *http.Request) {
	s.runBatch(w, r, s.deps.Reports.RunDeadLetterBatch)
}

func (s *Server) runBatch(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, userID int64, requestID string) (services.BatchRun, error)) {
	p, err := principal(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	res, err := run(r.Context(), p.UserID, trace.RequestID(r.Context()))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	out := batchResponse{Queued: res.Queued, ReadCount: res.Read, WriteCount: res.Written, SkipCount: res.Skipped}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	} else {
		out.FinishedAt = &res.FinishedAt
	}
	NewResponse().Status(status).Data(out).Write(w)
}
