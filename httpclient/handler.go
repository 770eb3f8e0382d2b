package httpclient

// Request statuses reported to IHttpStatusHandler.OnRequest
const (
	StatusSuccess     = "success"
	StatusError       = "error"
	StatusRateLimited = "rate_limited" // transient upstream failure that will be retried
)

// IHttpStatusHandler is an interface for handling HTTP request statuses
type IHttpStatusHandler interface {
	// OnRequest handles a request attempt with its status result
	OnRequest(status string)
	// OnRetry is called before every backoff wait
	OnRetry()
}
