package agent

import "github.com/eb-adutwum/interius/pkg/llm"

// JSON schemas injected into structured-generation prompts. They mirror the
// artifact structs in pkg/models; keep the two in sync.

var charterSchema = llm.Schema{Name: "ProjectCharter", JSON: `{
  "type": "object",
  "properties": {
    "project_name": {"type": "string"},
    "description": {"type": "string"},
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "fields": {
            "type": "array",
            "items": {
              "type": "object",
              "properties": {
                "name": {"type": "string"},
                "field_type": {"type": "string"},
                "required": {"type": "boolean"}
              },
              "required": ["name", "field_type"]
            }
          }
        },
        "required": ["name", "fields"]
      }
    },
    "endpoints": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "method": {"type": "string", "enum": ["GET", "POST", "PUT", "PATCH", "DELETE"]},
          "path": {"type": "string"},
          "description": {"type": "string"}
        },
        "required": ["method", "path", "description"]
      }
    },
    "business_rules": {"type": "array", "items": {"type": "string"}},
    "auth_required": {"type": "boolean"}
  },
  "required": ["project_name", "description", "entities", "endpoints", "business_rules", "auth_required"]
}`}

var architectureSchema = llm.Schema{Name: "SystemArchitecture", JSON: `{
  "type": "object",
  "properties": {
    "design_document": {"type": "string"},
    "mermaid_diagram": {"type": "string"},
    "components": {"type": "array", "items": {"type": "string"}},
    "data_model_summary": {"type": "array", "items": {"type": "string"}},
    "endpoint_summary": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["design_document", "mermaid_diagram", "components", "data_model_summary", "endpoint_summary"]
}`}

var planSchema = llm.Schema{Name: "CodeGenerationPlan", JSON: `{
  "type": "object",
  "properties": {
    "files": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "path": {"type": "string"},
          "purpose": {"type": "string"}
        },
        "required": ["path", "purpose"]
      }
    },
    "dependencies": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["files", "dependencies"]
}`}

var reviewSchema = llm.Schema{Name: "ReviewReport", JSON: `{
  "type": "object",
  "properties": {
    "issues": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
          "description": {"type": "string"},
          "file_path": {"type": "string"},
          "line_number": {"type": ["integer", "null"]}
        },
        "required": ["severity", "description", "file_path"]
      }
    },
    "suggestions": {"type": "array", "items": {"type": "string"}},
    "security_score": {"type": "integer", "minimum": 1, "maximum": 10},
    "approved": {"type": "boolean"},
    "affected_files": {"type": "array", "items": {"type": "string"}},
    "patch_requests": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "path": {"type": "string"},
          "reason": {"type": "string"},
          "instructions": {"type": "array", "items": {"type": "string"}}
        },
        "required": ["path", "reason", "instructions"]
      }
    },
    "final_code": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "path": {"type": "string"},
          "content": {"type": "string"}
        },
        "required": ["path", "content"]
      }
    }
  },
  "required": ["issues", "suggestions", "security_score", "approved", "affected_files", "patch_requests"]
}`}

var interfaceSchema = llm.Schema{Name: "InterfaceDecision", JSON: `{
  "type": "object",
  "properties": {
    "intent": {"type": "string", "enum": ["pipeline_request", "context_question", "social", "clarification"]},
    "should_trigger_pipeline": {"type": "boolean"},
    "assistant_reply": {"type": "string"},
    "pipeline_prompt": {"type": ["string", "null"]}
  },
  "required": ["intent", "should_trigger_pipeline", "assistant_reply"]
}`}
