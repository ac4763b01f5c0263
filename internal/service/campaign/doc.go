// Package campaign implements campaign submission and lifecycle control.
//
// Submit validates the template and contact source, checks the tenant's
// allowance and either creates the campaign and enqueues its job or hands
// the request to the scheduler. Pause and Resume move a campaign's jobs
// between the waiting and paused sets of the queue; the dispatch worker
// honors a pause at the next contact boundary.
//
// The service depends on the Repository and TemplateStore interfaces
// defined in repository.go. Implementations live in repository/postgres/
// and repository/memory/.
package campaign
