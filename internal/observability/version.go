package observability

// Version is reported in traces and in the User-Agent of outgoing requests.
const Version = "0.4.0"
