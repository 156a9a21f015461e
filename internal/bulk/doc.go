// Package bulk is a client for the asynchronous job/batch API
// (Salesforce Bulk API 1.0).
//
// A job scopes batches against one object and one operation:
//
//	POST /services/async/{version}/job                          create job
//	GET  /services/async/{version}/job/{id}                     job details
//	POST /services/async/{version}/job/{id}                     close job
//	POST /services/async/{version}/job/{id}/batch               create batch
//	GET  /services/async/{version}/job/{id}/batch/{id}          batch status
//	GET  /services/async/{version}/job/{id}/batch/{id}/request  submitted rows
//	GET  /services/async/{version}/job/{id}/batch/{id}/result   batch result
//	GET  /services/async/{version}/job/{id}/batch/{id}/result/{part}
//
// Every call carries the X-SFDC-Session header and passes through a shared
// token-bucket rate limiter. Failures are classified as TransportError (no
// usable response) or StatusCodeError (unexpected status, with the
// service's exceptionCode and exceptionMessage when present). Nothing is
// retried apart from the status checks inside PollBatch.
package bulk
