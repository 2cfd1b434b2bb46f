package bsp

// DecompressVis expands a run-length encoded visibility row. A zero byte is
// followed by a count of zero bytes to emit.
func DecompressVis(in []byte, numLeafs int) []byte {
	row := (numLeafs + 7) >> 3
	out := make([]byte, 0, row)
	for len(out) < row && len(in) > 0 {
		if in[0] != 0 {
			out = append(out, in[0])
			in = in[1:]
			continue
		}
		if len(in) < 2 {
			break
		}
		c := int(in[1])
		in = in[2:]
		for ; c > 0 && len(out) < row; c-- {
			out = append(out, 0)
		}
	}
	for len(out) < row {
		out = append(out, 0)
	}
	return out
}

// CompressVis is the inverse of DecompressVis. Map tooling uses it to store
// rows given as explicit leaf lists.
func CompressVis(row []byte) []byte {
	out := make([]byte, 0, len(row))
	for i := 0; i < len(row); i++ {
		if row[i] != 0 {
			out = append(out, row[i])
			continue
		}
		rep := 1
		for i+1 < len(row) && row[i+1] == 0 && rep < 255 {
			rep++
			i++
		}
		out = append(out, 0, byte(rep))
	}
	return out
}

// VisRow builds an uncompressed row with the given leaf numbers set.
// Leaf numbers are zero-based (leaf index minus one).
func VisRow(numLeafs int, visible []int) []byte {
	row := make([]byte, (numLeafs+7)>>3)
	for _, n := range visible {
		if n >= 0 && n < numLeafs {
			row[n>>3] |= 1 << (n & 7)
		}
	}
	return row
}
