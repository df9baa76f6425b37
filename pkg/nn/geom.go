package nn

type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (r Rect) Intersection(b Rect) Rect {
	x1 := max(r.X, b.X)
	y1 := max(r.Y, b.Y)
	x2 := min(r.X+r.Width, b.X+b.Width)
	y2 := min(r.Y+r.Height, b.Y+b.Height)
	return Rect{
		X:      x1,
		Y:      y1,
		Width:  max(0, x2-x1),
		Height: max(0, y2-y1),
	}
}

// ClipTo returns the portion of r that lies inside a width x height frame
func (r Rect) ClipTo(width, height int) Rect {
	return r.Intersection(Rect{Width: width, Height: height})
}

// CenteredRect returns a size x size rectangle centered in a width x height frame
func CenteredRect(width, height, size int) Rect {
	return Rect{
		X:      width/2 - size/2,
		Y:      height/2 - size/2,
		Width:  size,
		Height: size,
	}
}
