package main

const (
	loopbackWireDepth = 256  // frames buffered on the virtual loopback wire
	txQueueSize       = 1024 // capacity of the async device-write ring
	workQueueDepth    = 16   // deferred TX-ready work backlog
	bridgeReadBufSize = 4096 // per read() buffer for the device drain loop
)
