package version

// Version is the application version reported by the API and the request User-Agent.
const Version = "v0.3.0"
