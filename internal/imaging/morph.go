package imaging

import "image"

// Dilate replaces every pixel with the maximum over a size x size square.
// Neighbours outside the image are ignored.
func Dilate(src *image.Gray, size int) *image.Gray {
	return morph(src, size, func(a, b uint8) bool { return b > a })
}

// Erode replaces every pixel with the minimum over a size x size square.
// Neighbours outside the image are ignored.
func Erode(src *image.Gray, size int) *image.Gray {
	return morph(src, size, func(a, b uint8) bool { return b < a })
}

// Close performs morphological closing (dilate, then erode).
//
// On an edge map this bridges gaps narrower than the structuring element,
// which is what keeps the outline of a creased or curled receipt closed,
// without growing the outline itself.
func Close(src *image.Gray, size int) *image.Gray {
	return Erode(Dilate(src, size), size)
}

// morph runs a separable rank filter: a horizontal pass, then a vertical pass.
// better reports whether b should replace the running extreme a.
func morph(src *image.Gray, size int, better func(a, b uint8) bool) *image.Gray {
	pix, w, h := grayPlane(src)
	out := image.NewGray(image.Rect(0, 0, w, h))
	if size < 2 || w == 0 || h == 0 {
		copy(out.Pix, pix)
		return out
	}

	// Anchor at the element centre, like OpenCV's default (-1,-1).
	before := size / 2
	after := size - 1 - before

	tmp := make([]uint8, w*h)
	for y := 0; y < h; y++ {
		row := pix[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			lo, hi := max(0, x-before), min(w-1, x+after)
			v := row[lo]
			for i := lo + 1; i <= hi; i++ {
				if better(v, row[i]) {
					v = row[i]
				}
			}
			tmp[y*w+x] = v
		}
	}

	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			lo, hi := max(0, y-before), min(h-1, y+after)
			v := tmp[lo*w+x]
			for i := lo + 1; i <= hi; i++ {
				if better(v, tmp[i*w+x]) {
					v = tmp[i*w+x]
				}
			}
			out.Pix[y*out.Stride+x] = v
		}
	}

	return out
}
