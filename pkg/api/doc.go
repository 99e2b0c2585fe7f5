// Package api exposes the queue protocol over HTTP.
//
// Every response body has the shape {"success", "reason", "result"}; the
// reason is OK, NOT FOUND, TIMEOUT, TEMPLATE NOT FOUND, NOT IMPLEMENTED or a
// failure message. Routes are mounted on a gorilla/mux router:
//
//	GET  /
//	POST /tasks/queue/{priority}/{category}/{name}
//	GET  /tasks/get_task_status/{id}
//	GET  /tasks/get_task_results/{id}
//	GET  /tasks/await/{id}?timeout=<seconds>
//	GET  /tasks/escalate/{id}
//	GET  /tasks/list
//	GET  /tasks/list_available_templates
//	GET  /pstar/list_platforms
//	GET  /pstar/list_accounts
//	GET  /pstar/list_services
//	POST /match/compile
package api
