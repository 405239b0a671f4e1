package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The validation paths reject before the service is touched, so a nil service
// is fine here.
func postAppointment(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	handler := createAppointmentHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestCreateAppointmentValidation(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{
			name:     "malformed json",
			body:     `{"provider_id":`,
			wantCode: "invalid_request_body",
		},
		{
			name:     "bad provider id",
			body:     `{"provider_id":"nope","patient_id":"4b33e5a8-0000-4000-8000-000000000001","date":"2026-09-10","slot":"10:00"}`,
			wantCode: "invalid_provider_id",
		},
		{
			name:     "bad patient id",
			body:     `{"provider_id":"4b33e5a8-0000-4000-8000-000000000001","patient_id":"nope","date":"2026-09-10","slot":"10:00"}`,
			wantCode: "invalid_patient_id",
		},
		{
			name:     "bad date",
			body:     `{"provider_id":"4b33e5a8-0000-4000-8000-000000000001","patient_id":"4b33e5a8-0000-4000-8000-000000000002","date":"10/09/2026","slot":"10:00"}`,
			wantCode: "invalid_date",
		},
		{
			name:     "bad slot",
			body:     `{"provider_id":"4b33e5a8-0000-4000-8000-000000000001","patient_id":"4b33e5a8-0000-4000-8000-000000000002","date":"2026-09-10","slot":"ten"}`,
			wantCode: "invalid_slot",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postAppointment(t, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantCode)
		})
	}
}

func TestCancelAppointmentRejectsBadID(t *testing.T) {
	handler := cancelAppointmentHandler(nil)
	req := httptest.NewRequest(http.MethodPost, "/appointments/not-a-uuid/cancel", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_appointment_id")
}
