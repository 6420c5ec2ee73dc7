// Package docs registers the OpenAPI description served at /openapi.json.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["System"],
                "summary": "Service health and process statistics",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}}}
            }
        },
        "/sessions": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Sessions"],
                "summary": "Status of every live websocket session",
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}}}
            }
        },
        "/meetings": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Meetings"],
                "summary": "List meetings",
                "parameters": [
                    {"type": "string", "description": "Only meetings of this client", "name": "client_id", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}}}
            }
        },
        "/meetings/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Meetings"],
                "summary": "Get a meeting",
                "parameters": [
                    {"type": "string", "description": "Meeting ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIResponse"}}
                }
            }
        },
        "/meetings/{id}/transcripts": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Meetings"],
                "summary": "Final transcript segments of a meeting",
                "parameters": [
                    {"type": "string", "description": "Meeting ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "description": "RFC 3339 lower bound", "name": "since", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/APIResponse"}}
                }
            }
        },
        "/meetings/{id}/summary": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Meetings"],
                "summary": "Generate a progressive or final summary",
                "parameters": [
                    {"type": "string", "description": "Meeting ID", "name": "id", "in": "path", "required": true},
                    {"type": "string", "enum": ["progressive", "final"], "description": "Summary kind", "name": "kind", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "409": {"description": "No transcript yet", "schema": {"$ref": "#/definitions/APIResponse"}},
                    "503": {"description": "Insights disabled", "schema": {"$ref": "#/definitions/APIResponse"}}
                }
            }
        }
    },
    "definitions": {
        "APIResponse": {
            "type": "object",
            "properties": {
                "success": {"type": "boolean"},
                "data": {},
                "message": {"type": "string"},
                "code": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "meetscribe API",
	Description:      "Meeting transcription service: live sessions, transcripts and summaries.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
