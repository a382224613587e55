package service

// Server is a front end serving a single debug session.
type Server interface {
	Run()
	Stop()
}
