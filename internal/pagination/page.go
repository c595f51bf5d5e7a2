package pagination

const (
	DefaultSize = 20
	MaxSize     = 100
)

// Page is a 1-based page request.
type Page struct {
	Number int
	Size   int
}

// New clamps number and size to sane bounds.
func New(number, size int) Page {
	if number < 1 {
		number = 1
	}
	if size < 1 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}
	return Page{Number: number, Size: size}
}

func (p Page) Offset() int {
	p = New(p.Number, p.Size)
	return (p.Number - 1) * p.Size
}

func (p Page) Limit() int {
	return New(p.Number, p.Size).Size
}

// Slice returns the [start, end) bounds of this page over n items.
func (p Page) Slice(n int) (int, int) {
	start := p.Offset()
	if start > n {
		start = n
	}
	end := start + p.Limit()
	if end > n {
		end = n
	}
	return start, end
}
