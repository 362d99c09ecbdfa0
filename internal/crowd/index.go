package crowd

import (
	"math"

	"github.com/dhconnelly/rtreego"
	"github.com/golang/geo/r2"
)

const (
	indexMinChildren = 8
	indexMaxChildren = 32
	// minExtent keeps zero-sized query boxes valid for rtreego.
	minExtent = 1e-6
)

// body is a pedestrian's bounding square in the spatial index.
type body struct {
	id   string
	rect rtreego.Rect
}

func (b *body) Bounds() rtreego.Rect {
	return b.rect
}

// Index answers "who is near this point" over pedestrian bodies. It is
// rebuilt wholesale whenever a query finds it stale.
type Index struct {
	tree *rtreego.Rtree
	size int
}

func newIndex() *Index {
	return &Index{tree: rtreego.NewTree(2, indexMinChildren, indexMaxChildren)}
}

// rebuild bulk-loads the tree from centers and radii keyed by ID.
func (x *Index) rebuild(centers map[string]r2.Point, radii map[string]float64) {
	objs := make([]rtreego.Spatial, 0, len(centers))
	for id, c := range centers {
		rect, ok := squareAround(c, radii[id])
		if !ok {
			continue
		}
		objs = append(objs, &body{id: id, rect: rect})
	}
	x.tree = rtreego.NewTree(2, indexMinChildren, indexMaxChildren, objs...)
	x.size = len(objs)
}

// candidates returns IDs whose bounding squares intersect the square around
// center with half-width radius.
func (x *Index) candidates(center r2.Point, radius float64) []string {
	if x.size == 0 {
		return nil
	}
	query, ok := squareAround(center, radius)
	if !ok {
		return nil
	}
	hits := x.tree.SearchIntersect(query)
	ids := make([]string, 0, len(hits))
	for _, hit := range hits {
		ids = append(ids, hit.(*body).id)
	}
	return ids
}

func (x *Index) Len() int {
	return x.size
}

func squareAround(c r2.Point, half float64) (rtreego.Rect, bool) {
	if math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsInf(c.X, 0) || math.IsInf(c.Y, 0) {
		return rtreego.Rect{}, false
	}
	half = math.Max(half, minExtent)
	rect, err := rtreego.NewRect(rtreego.Point{c.X - half, c.Y - half}, []float64{2 * half, 2 * half})
	if err != nil {
		return rtreego.Rect{}, false
	}
	return rect, true
}
