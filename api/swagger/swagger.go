package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Parnia API",
        "description": "Course catalog, enrollment and grading backend",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Login and token lifecycle"},
        {"name": "Users", "description": "Account administration"},
        {"name": "Courses", "description": "Course catalog and prerequisites"},
        {"name": "Terms", "description": "Academic terms"},
        {"name": "Sections", "description": "Course sections per term"},
        {"name": "CourseLogs", "description": "Enrollment and grading"},
        {"name": "Complains", "description": "Student complaints"},
        {"name": "Reports", "description": "Asynchronous transcript and grade sheet exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Login with username and password",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate the refresh token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Auth"],
                "summary": "Revoke the refresh token",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current account profile",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users": {
            "get": {
                "tags": ["Users"],
                "summary": "List users",
                "parameters": [
                    {"name": "search", "in": "query", "type": "string"},
                    {"name": "role", "in": "query", "type": "string"},
                    {"name": "active", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Users"],
                "summary": "Create user",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateUserRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/users/{public_id}": {
            "get": {
                "tags": ["Users"],
                "summary": "Get user",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Users"],
                "summary": "Update user",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateUserRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Users"],
                "summary": "Deactivate user",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courses": {
            "get": {
                "tags": ["Courses"],
                "summary": "List courses",
                "parameters": [
                    {"name": "name", "in": "query", "type": "string"},
                    {"name": "prerequisites", "in": "query", "type": "string", "description": "Comma separated course names; results must carry every named prerequisite"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Courses"],
                "summary": "Create one course or a batch",
                "description": "Accepts a single course object or an array. A batch succeeds or fails as a whole.",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CourseRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courses/{public_id}": {
            "get": {
                "tags": ["Courses"],
                "summary": "Get course",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Courses"],
                "summary": "Update course",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CourseRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Courses"],
                "summary": "Delete course",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/terms": {
            "get": {
                "tags": ["Terms"],
                "summary": "List terms",
                "parameters": [
                    {"name": "season", "in": "query", "type": "string"},
                    {"name": "year", "in": "query", "type": "integer"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Terms"],
                "summary": "Create term",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TermRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/terms/{public_id}": {
            "get": {
                "tags": ["Terms"],
                "summary": "Get term",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Terms"],
                "summary": "Update term",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/TermRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Terms"],
                "summary": "Delete term",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/sections": {
            "get": {
                "tags": ["Sections"],
                "summary": "List sections",
                "parameters": [
                    {"name": "instructor", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "string"},
                    {"name": "course", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Sections"],
                "summary": "Create section",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SectionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/sections/{public_id}": {
            "get": {
                "tags": ["Sections"],
                "summary": "Get section",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Sections"],
                "summary": "Update section",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateSectionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Sections"],
                "summary": "Delete section",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/courselogs": {
            "get": {
                "tags": ["CourseLogs"],
                "summary": "List course logs",
                "parameters": [
                    {"name": "student", "in": "query", "type": "string"},
                    {"name": "section", "in": "query", "type": "string"},
                    {"name": "term", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["CourseLogs"],
                "summary": "Enroll a student in sections",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/EnrollRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courselogs/grades": {
            "patch": {
                "tags": ["CourseLogs"],
                "summary": "Bulk update grades",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/GradeUpdateRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courselogs/approve": {
            "post": {
                "tags": ["CourseLogs"],
                "summary": "Approve graded course logs",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApproveRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/courselogs/{public_id}": {
            "get": {
                "tags": ["CourseLogs"],
                "summary": "Get course log",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["CourseLogs"],
                "summary": "Delete course log",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/complains": {
            "get": {
                "tags": ["Complains"],
                "summary": "List own complaints",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Complains"],
                "summary": "File a complaint",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ComplainRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/complains/section/{public_id}": {
            "get": {
                "tags": ["Complains"],
                "summary": "List complaints for a section",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/complains/section/{public_id}/seen": {
            "post": {
                "tags": ["Complains"],
                "summary": "Mark a section's complaints as seen",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/complains/{public_id}": {
            "get": {
                "tags": ["Complains"],
                "summary": "Get complaint",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Complains"],
                "summary": "Delete complaint",
                "parameters": [
                    {"name": "public_id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/reports": {
            "get": {
                "tags": ["Reports"],
                "summary": "List own report jobs",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Reports"],
                "summary": "Enqueue a report job",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ReportRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/{id}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report job status",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/export/{token}": {
            "get": {
                "tags": ["Reports"],
                "summary": "Download a finished report",
                "produces": ["application/octet-stream"],
                "parameters": [
                    {"name": "token", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["username", "password"]
        },
        "CreateUserRequest": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"},
                "email": {"type": "string"},
                "full_name": {"type": "string"},
                "roles": {"type": "array", "items": {"type": "string"}},
                "elevated": {"type": "boolean"}
            },
            "required": ["username", "password", "email", "full_name"]
        },
        "UpdateUserRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "full_name": {"type": "string"},
                "roles": {"type": "array", "items": {"type": "string"}},
                "active": {"type": "boolean"},
                "elevated": {"type": "boolean"}
            }
        },
        "CourseRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "credit": {"type": "integer", "minimum": 1, "maximum": 4},
                "prerequisites": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["name", "credit"]
        },
        "TermRequest": {
            "type": "object",
            "properties": {
                "season": {"type": "string", "enum": ["SPRING", "SUMMER", "FALL", "WINTER"]},
                "start_date": {"type": "string", "format": "date-time"}
            },
            "required": ["season", "start_date"]
        },
        "SectionRequest": {
            "type": "object",
            "properties": {
                "course": {"type": "string"},
                "term": {"type": "string"},
                "instructor": {"type": "string"},
                "total_capacity": {"type": "integer", "minimum": 1},
                "first_session_weekday": {"type": "string"},
                "second_session_weekday": {"type": "string"},
                "hour_schedule": {"type": "string"},
                "exam_date": {"type": "string", "format": "date-time"}
            },
            "required": ["course", "term", "instructor", "total_capacity", "first_session_weekday", "second_session_weekday", "hour_schedule", "exam_date"]
        },
        "UpdateSectionRequest": {
            "type": "object",
            "properties": {
                "instructor": {"type": "string"},
                "total_capacity": {"type": "integer", "minimum": 1},
                "first_session_weekday": {"type": "string"},
                "second_session_weekday": {"type": "string"},
                "hour_schedule": {"type": "string"},
                "exam_date": {"type": "string", "format": "date-time"}
            },
            "required": ["instructor", "total_capacity", "first_session_weekday", "second_session_weekday", "hour_schedule", "exam_date"]
        },
        "EnrollRequest": {
            "type": "object",
            "properties": {
                "student": {"type": "string"},
                "sections": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["student", "sections"]
        },
        "GradeUpdateRequest": {
            "type": "object",
            "properties": {
                "updates": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/GradePatch"}
                }
            },
            "required": ["updates"]
        },
        "GradePatch": {
            "type": "object",
            "properties": {
                "public_id": {"type": "string"},
                "midterm_exam": {"type": "integer", "minimum": 0, "maximum": 20},
                "final_exam": {"type": "integer", "minimum": 0, "maximum": 20},
                "final_grade": {"type": "integer", "minimum": 0, "maximum": 20}
            },
            "required": ["public_id"]
        },
        "ApproveRequest": {
            "type": "object",
            "properties": {
                "course_logs": {"type": "array", "items": {"type": "string"}}
            },
            "required": ["course_logs"]
        },
        "ComplainRequest": {
            "type": "object",
            "properties": {
                "section": {"type": "string"},
                "text": {"type": "string", "maxLength": 300}
            },
            "required": ["section", "text"]
        },
        "ReportRequest": {
            "type": "object",
            "properties": {
                "type": {"type": "string", "enum": ["transcript", "section_grades"]},
                "student": {"type": "string"},
                "section": {"type": "string"},
                "term": {"type": "string"},
                "format": {"type": "string", "enum": ["csv", "pdf"]}
            },
            "required": ["type", "format"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "fields": {"type": "array", "items": {"type": "object"}},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
