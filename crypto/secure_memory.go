package crypto

import "runtime"

// Wipe zeroes the private key. Call it once the key pair is no longer
// needed; the public key stays usable.
func (kp *KeyPair) Wipe() {
	if kp == nil {
		return
	}
	zeroBytes(kp.Private[:])
}

// zeroBytes overwrites data with zeros.
func zeroBytes(data []byte) {
	for i := range data {
		data[i] = 0
	}
	runtime.KeepAlive(data)
}
