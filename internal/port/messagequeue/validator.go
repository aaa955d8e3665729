package messagequeue

import (
	"encoding/json"
	"fmt"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	switch subject {
	case SubjectExecutionRequested:
		var p ExecutionRequestedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.ExecutionID == "" || p.ScenarioID == "" {
			return fmt.Errorf("schema validation failed for %s: execution_id and scenario_id are required", subject)
		}
	case SubjectValidationRecorded:
		var p ValidationRecordedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
	case SubjectDefectCreated:
		var p DefectCreatedPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("schema validation failed for %s: %w", subject, err)
		}
		if p.DefectID == "" {
			return fmt.Errorf("schema validation failed for %s: defect_id is required", subject)
		}
	}
	return nil
}
