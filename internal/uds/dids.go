package uds

// defaultDIDs returns the starting Data Identifier table. vin/ecuName let
// the vehicle profile override the identity DIDs without touching the rest.
func defaultDIDs(vin, ecuName string) map[uint16][]byte {
	return map[uint16][]byte{
		0xF187: []byte("12345678"),        // spare part number
		0xF18A: []byte("SUPPLIER"),        // system supplier ID
		0xF18B: []byte("20250101"),        // ECU manufacturing date, YYYYMMDD
		0xF18C: []byte("SN123456789012"),  // ECU serial number
		0xF18E: []byte("v2.0.0"),          // ECU software version
		0xF190: fixedASCII(vin, 17),       // VIN
		0xF191: []byte("HW1.0"),           // ECU hardware version
		0xF19E: fixedASCII(ecuName, 20),   // system/ECU name
		0x0100: {0x00, 0x01},               // custom data 1
		0x0101: {0x00, 0x02},               // custom data 2
	}
}

// mergeDIDs overlays extra onto base, mutating and returning base; extra
// entries add new DIDs or override built-in ones.
func mergeDIDs(base map[uint16][]byte, extra map[uint16][]byte) map[uint16][]byte {
	for did, v := range extra {
		base[did] = v
	}
	return base
}

func fixedASCII(s string, n int) []byte {
	b := []byte(s)
	if len(b) > n {
		return b[:n]
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}
