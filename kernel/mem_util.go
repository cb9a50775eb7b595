package kernel

// Memset fills target with the supplied value. Instead of a plain byte
// loop, the filled prefix is doubled via log2(len(target)) copy calls.
func Memset(target []byte, value byte) {
	if len(target) == 0 {
		return
	}

	target[0] = value
	for index := 1; index < len(target); index *= 2 {
		copy(target[index:], target[:index])
	}
}
