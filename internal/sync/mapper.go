package sync

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/kimhsiao/teamsync/agent/internal/errors"
	"github.com/kimhsiao/teamsync/agent/internal/models"
)

// Record types understood by the mapper.
const (
	RecordTypeWorkout = "workout"
	RecordTypeSession = "session"
)

const trainingSessionsPath = "/api/training/sessions"

// Operation is the remote call a queued record replays as.
type Operation struct {
	Path     string
	Method   string
	SendBody bool
}

type routeKey struct {
	recordType string
	action     models.Action
}

type route struct {
	method   string
	withID   bool
	sendBody bool
}

// Workouts are stored remotely as training sessions. Session deletion has no
// route and is reported as unsupported.
var routes = map[routeKey]route{
	{RecordTypeWorkout, models.ActionCreate}: {method: http.MethodPost, sendBody: true},
	{RecordTypeWorkout, models.ActionUpdate}: {method: http.MethodPut, withID: true, sendBody: true},
	{RecordTypeWorkout, models.ActionDelete}: {method: http.MethodDelete, withID: true},
	{RecordTypeSession, models.ActionCreate}: {method: http.MethodPost, sendBody: true},
	{RecordTypeSession, models.ActionUpdate}: {method: http.MethodPut, withID: true, sendBody: true},
}

// Resolve maps a queued record to its remote operation.
func Resolve(rec *models.QueueRecord) (Operation, error) {
	if rec == nil {
		return Operation{}, errors.New(errors.ErrInvalid, "record is nil")
	}

	r, ok := routes[routeKey{rec.Type, rec.Action}]
	if !ok {
		return Operation{}, errors.Newf(errors.ErrUnsupportedOperation,
			"unsupported operation: %s %s", rec.Type, rec.Action)
	}

	op := Operation{
		Path:     trainingSessionsPath,
		Method:   r.method,
		SendBody: r.sendBody,
	}
	if !r.withID {
		return op, nil
	}

	raw, ok := rec.EntityID()
	if !ok {
		return Operation{}, errors.Newf(errors.ErrInvalid,
			"%s %s requires data.id", rec.Type, rec.Action)
	}
	id, err := formatEntityID(raw)
	if err != nil {
		return Operation{}, err
	}
	op.Path = trainingSessionsPath + "/" + url.PathEscape(id)
	return op, nil
}

// formatEntityID renders data.id the way it appears in a URL path.
// Numbers are printed without exponent or trailing zeros.
func formatEntityID(v interface{}) (string, error) {
	switch id := v.(type) {
	case string:
		return id, nil
	case json.Number:
		if isIntegerLiteral(id.String()) {
			return id.String(), nil
		}
		f, err := id.Float64()
		if err != nil {
			return "", errors.Wrap(errors.ErrInvalid, "invalid numeric data.id", err)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(id), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	default:
		return "", errors.New(errors.ErrInvalid, fmt.Sprintf("unsupported data.id type %T", v))
	}
}

// isIntegerLiteral reports whether s is an optionally signed run of digits.
// Such ids are kept verbatim so values beyond 2^53 survive.
func isIntegerLiteral(s string) bool {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
