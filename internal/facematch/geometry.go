package facematch

// box is a parsed [x1, y1, x2, y2] detection rectangle.
type box struct{ x1, y1, x2, y2 float64 }

func parseBox(b []float64) (box, bool) {
	if len(b) != 4 {
		return box{}, false
	}
	return box{b[0], b[1], b[2], b[3]}, true
}

func (b box) area() float64 {
	w, h := b.x2-b.x1, b.y2-b.y1
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// BoxArea returns the area of an [x1, y1, x2, y2] box, 0 for malformed or
// inverted input.
func BoxArea(b []float64) float64 {
	parsed, ok := parseBox(b)
	if !ok {
		return 0
	}
	return parsed.area()
}

// IoU is the intersection-over-union of two boxes in the same coordinate
// system. Malformed boxes overlap nothing.
func IoU(a, b []float64) float64 {
	pa, okA := parseBox(a)
	pb, okB := parseBox(b)
	if !okA || !okB {
		return 0
	}

	overlap := box{
		x1: max(pa.x1, pb.x1),
		y1: max(pa.y1, pb.y1),
		x2: min(pa.x2, pb.x2),
		y2: min(pa.y2, pb.y2),
	}.area()
	if overlap == 0 {
		return 0
	}
	union := pa.area() + pb.area() - overlap
	if union <= 0 {
		return 0
	}
	return overlap / union
}

// ScaleBox multiplies every coordinate by factor. Detections made on a
// downscaled frame are mapped back to the original with factor > 1.
func ScaleBox(b []float64, factor float64) []float64 {
	if len(b) != 4 || factor <= 0 || factor == 1 {
		return b
	}
	scaled := make([]float64, 4)
	for i, v := range b {
		scaled[i] = v * factor
	}
	return scaled
}
