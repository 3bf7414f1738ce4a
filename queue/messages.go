package queue

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/TiunovNN/video-compression-model/model"
)

// Job type names carried in the AMQP message Type field.
const (
	JobAnalyze   = "feature_calculator"
	JobTranscode = "transcode_video"
)

// AnalyzeJob asks a worker to extract stream features from an uploaded
// source and chain a transcode job with the predicted parameters.
type AnalyzeJob struct {
	TaskID    string `json:"task_id"`
	SourceKey string `json:"source_key"`
}

// TranscodeJob asks a worker to encode the task's source. A nil Params
// means prediction never completed; the worker degrades to the CRF
// fallback.
type TranscodeJob struct {
	TaskID string            `json:"task_id"`
	Params *model.Prediction `json:"params,omitempty"`
}

const analyzeJobSchemaDefinition = `{
	"type": "object",
	"properties": {
		"task_id": {"type": "string", "minLength": 1},
		"source_key": {"type": "string", "minLength": 1}
	},
	"required": ["task_id", "source_key"],
	"additionalProperties": false
}`

const transcodeJobSchemaDefinition = `{
	"type": "object",
	"properties": {
		"task_id": {"type": "string", "minLength": 1},
		"params": {
			"type": "object",
			"properties": {
				"status": {"type": "string", "enum": ["success", "success_fallback", "failed"]},
				"parameter": {"type": "string", "enum": ["crf", "qp"]},
				"value": {"type": "integer", "minimum": 0},
				"quality": {"type": "number"}
			},
			"required": ["status", "parameter", "value"]
		}
	},
	"required": ["task_id"],
	"additionalProperties": false
}`

var jobSchemas = map[string]string{
	JobAnalyze:   analyzeJobSchemaDefinition,
	JobTranscode: transcodeJobSchemaDefinition,
}

func compileJobSchemas() map[string]*gojsonschema.Schema {
	compiled := make(map[string]*gojsonschema.Schema, len(jobSchemas))
	for name, text := range jobSchemas {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
		if err != nil {
			// Schemas compile at init; a malformed schema is a programmer
			// error.
			panic(err)
		}
		compiled[name] = schema
	}
	return compiled
}

var jobSchemasCompiled = compileJobSchemas()

// ValidateJobPayload checks a raw message body against the schema for its
// job type. Unknown job types fail.
func ValidateJobPayload(jobType string, body []byte) error {
	schema, ok := jobSchemasCompiled[jobType]
	if !ok {
		return fmt.Errorf("unknown job type %q", jobType)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return fmt.Errorf("validating %s payload: %w", jobType, err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid %s payload: %s", jobType, result.Errors()[0].String())
	}
	return nil
}
