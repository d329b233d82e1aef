package ccd

import(
	"math"
)

// The deblender slices an object at a series of thresholds between its
// detection threshold and its peak, looking for the lowest level where
// it falls apart into two or more significant branches.
type deblender struct {
	cfg ExtractConfig
}

// branches finds the 8-connected groups of o's pixels above t.
func branches(o object, t float64) []object {
	xmin, ymin, xmax, ymax := o[0].x, o[0].y, o[0].x, o[0].y
	for _, p := range o {
		if p.x < xmin { xmin = p.x }
		if p.x > xmax { xmax = p.x }
		if p.y < ymin { ymin = p.y }
		if p.y > ymax { ymax = p.y }
	}

	// A local lookup over the bbox; -1 means not part of the object
	w, h := xmax-xmin+1, ymax-ymin+1
	lookup := make([]int, w*h)
	for i := range lookup { lookup[i] = -1 }
	for i, p := range o {
		if p.v > t {
			lookup[(p.y-ymin)*w + (p.x-xmin)] = i
		}
	}

	visited := make([]bool, len(o))
	out := []object{}
	for i, p := range o {
		if visited[i] || !(p.v > t) { continue }

		b := object{}
		toVisit := []int{i}
		visited[i] = true
		for len(toVisit) > 0 {
			q := o[toVisit[0]]
			toVisit = toVisit[1:]
			b = append(b, q)

			for dy:=-1; dy<=1; dy++ {
				for dx:=-1; dx<=1; dx++ {
					lx, ly := q.x+dx-xmin, q.y+dy-ymin
					if lx < 0 || ly < 0 || lx >= w || ly >= h { continue }
					if j := lookup[ly*w+lx]; j >= 0 && !visited[j] {
						visited[j] = true
						toVisit = append(toVisit, j)
					}
				}
			}
		}
		out = append(out, b)
	}
	return out
}

func (o object)flux() float64 {
	f := 0.0
	for _, p := range o { f += p.v }
	return f
}

func (o object)peak() pixel {
	best := o[0]
	for _, p := range o {
		if p.v > best.v { best = p }
	}
	return best
}

// level is the i'th of n thresholds between base and peak, spaced
// exponentially (or linearly, if base isn't positive).
func level(base, peak float64, i, n int) float64 {
	frac := float64(i) / float64(n)
	if base > 0 {
		return base * math.Pow(peak/base, frac)
	}
	return base + (peak-base)*frac
}

// split returns the deblended children of o, in raster order; o
// itself if it doesn't split.
func (d deblender)split(o object, base float64) []object {
	n := d.cfg.DeblendNThresh
	if n <= 1 || len(o) < 2*d.cfg.MinArea {
		return []object{o}
	}

	peak := o.peak().v
	if !(peak > base) {
		return []object{o}
	}

	total := o.flux()
	for i:=1; i<n; i++ {
		t := level(base, peak, i, n)

		significant := []object{}
		for _, b := range branches(o, t) {
			if len(b) >= d.cfg.MinArea && b.flux() >= d.cfg.DeblendContrast * total {
				significant = append(significant, b)
			}
		}
		if len(significant) < 2 {
			continue
		}

		children := assign(o, significant)
		out := []object{}
		for _, c := range children {
			out = append(out, d.split(c, t)...)
		}
		sortObjects(out)
		return out
	}

	return []object{o}
}

// assign hands every pixel of o to the branch whose peak is nearest.
func assign(o object, brs []object) []object {
	peaks := make([]pixel, len(brs))
	for i, b := range brs {
		peaks[i] = b.peak()
	}

	children := make([]object, len(brs))
	for _, p := range o {
		best, bestDist := 0, math.MaxFloat64
		for i, pk := range peaks {
			dx, dy := float64(p.x-pk.x), float64(p.y-pk.y)
			if d := dx*dx + dy*dy; d < bestDist {
				best, bestDist = i, d
			}
		}
		children[best] = append(children[best], p)
	}
	return children
}
