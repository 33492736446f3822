package api

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/warp/fuelstation/shift"
)

// LogNotifier writes shift notices to the log, tagged with the request ID
// when the notice was raised inside an HTTP request.
type LogNotifier struct {
	Log logrus.FieldLogger
}

func (n LogNotifier) Notify(ctx context.Context, notice shift.Notice) {
	fields := logrus.Fields{
		"kind":          string(notice.Kind),
		"assignment_id": int64(notice.AssignmentID),
	}
	if notice.SettlementID != 0 {
		fields["settlement_id"] = int64(notice.SettlementID)
	}
	if id := middleware.GetReqID(ctx); id != "" {
		fields["request_id"] = id
	}
	n.Log.WithFields(fields).Info(notice.Message)
}
