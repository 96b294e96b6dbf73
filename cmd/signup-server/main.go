// signup-server serves the signup landing page, the API key endpoint and the
// MongoDB-backed auth routes.
//
// Usage:
//
//	# Start with settings from .env and the environment
//	signup-server
//
//	# Override the port and refuse to start without a database
//	signup-server --port 8080 --db-policy strict
//
//	# Show version information
//	signup-server version
package main

func main() {
	Execute()
}
