// Package triage provides the business boundary for warden's security event
// triage. It defines the Engine (directive selection and rule synthesis over the
// knowledge base), the Service (input validation, notification, read paths for
// the API), the collaborator interfaces (policy, rules, ids, facts), and the
// domain models.
package triage
