package version

// HandlerVersion identifies the running build in response headers, bodies,
// test documents and audit records. Set at link time:
//
//	go build -ldflags "-X integrator/version.HandlerVersion=integrator-request@2026-01-15T04:30Z"
var HandlerVersion = "integrator-request@dev"

// Header carries HandlerVersion on every response.
const Header = "x-fw-handler-version"
