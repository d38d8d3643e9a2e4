// Package openapi carries the embedded API description served by the
// `openapi` command.
package openapi

// Document is the OpenAPI 3 description of the HTTP ingress.
const Document = `openapi: "3.0.3"
info:
  title: Pub/Sub message scheduler
  description: >
    Accepts schedule requests and republishes the stored payload to the
    target Pub/Sub topic when the schedule comes due. Delivery is
    at-least-once; consumers must deduplicate.
  version: "1.0"
paths:
  /schedules:
    post:
      summary: Schedule a message for future publication
      security:
        - basicAuth: []
      requestBody:
        required: true
        content:
          application/json:
            schema:
              $ref: "#/components/schemas/ScheduleRequest"
      responses:
        "201":
          description: Task stored
          content:
            application/json:
              schema:
                type: object
                properties:
                  taskName: { type: string }
                  taskInstance: { type: string }
                  executionTime: { type: string, format: date-time }
        "400": { description: Validation failure }
        "401": { description: Missing or invalid credentials }
        "409": { description: Named recurring task already exists }
        "500": { description: Store failure }
components:
  securitySchemes:
    basicAuth:
      type: http
      scheme: basic
  schemas:
    ScheduleRequest:
      type: object
      required: [schedule, targetTopic, payload]
      properties:
        schedule:
          type: object
          required: [type]
          properties:
            type:
              type: string
              enum: [one-time, cron, fixed-delay, daily]
            executionTime:
              type: integer
              format: int64
              description: Epoch millis; one-time only.
            expression:
              type: string
              description: 5- or 6-field cron expression.
            delaySeconds:
              type: integer
              minimum: 1
            hour: { type: integer, minimum: 0, maximum: 23 }
            minute: { type: integer, minimum: 0, maximum: 59 }
            zone:
              type: string
              description: IANA zone name; defaults to UTC.
            initialExecutionTime:
              type: integer
              format: int64
              description: Optional first fire for recurring schedules.
        targetTopic:
          type: string
          description: Simple topic ID or projects/<p>/topics/<t>.
        payload:
          type: object
          required: [data]
          properties:
            data:
              type: string
              format: byte
              description: Base64; must decode non-empty.
            attributes:
              type: object
              additionalProperties: { type: string }
        taskName:
          type: string
          description: Dedup key; required for named recurring tasks.
`
