package transport

// Friend IDs under which each loopback endpoint knows the other.
const (
	testAliceSeesBob = 1
	testBobSeesAlice = 2
)

const (
	testFileSize  = 1024
	testChunkSize = 100
)
