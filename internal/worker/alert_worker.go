package worker

import (
	"github.com/spec-kit/haul-reconciler/internal/service"
)

// StartAlertWorker registers alert handlers.
func StartAlertWorker(alerts *service.AlertService) {
	if alerts == nil {
		return
	}
	alerts.RegisterHandlers()
}
