package composer

import (
	"io"
	"os"
	"path/filepath"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/pkg/errors"
	"gopkg.in/go-playground/colors.v1"

	"github.com/e7canasta/sensorpod/modules/element"
)

type stageGraph = graph.Graph[string, string]

// fill colors per stage kind, endpoints share the sink color
var kindRGB = map[element.Kind][3]uint8{
	element.KindSource:      {102, 187, 106},
	element.KindPreprocess:  {255, 202, 40},
	element.KindModel:       {239, 83, 80},
	element.KindPostprocess: {171, 71, 188},
	element.KindSink:        {66, 165, 245},
}

func kindColor(k element.Kind) (string, error) {
	rgb, ok := kindRGB[k]
	if !ok {
		rgb = [3]uint8{189, 189, 189}
	}
	c, err := colors.RGB(rgb[0], rgb[1], rgb[2])
	if err != nil {
		return "", errors.Wrap(err, "unable to get colour")
	}
	return c.ToHEX().String(), nil
}

func buildGraph(stages []Stage, branches []element.Branch) (stageGraph, error) {
	g := graph.New(graph.StringHash, graph.Directed(), graph.Acyclic(), graph.PreventCycles())

	addVertex := func(name, label string, k element.Kind) error {
		color, err := kindColor(k)
		if err != nil {
			return err
		}
		return g.AddVertex(name,
			graph.VertexAttribute("label", label),
			graph.VertexAttribute("style", "filled"),
			graph.VertexAttribute("fillcolor", color),
		)
	}

	prev := ""
	for _, s := range stages {
		if err := addVertex(s.Name, s.Name+`\n`+s.Kind.String(), s.Kind); err != nil {
			return nil, errors.Wrapf(err, "stage %s", s.Name)
		}
		if prev != "" {
			if err := g.AddEdge(prev, s.Name); err != nil {
				return nil, errors.Wrapf(err, "link %s -> %s", prev, s.Name)
			}
		}
		prev = s.Name
	}

	// every endpoint hangs off the sink stage
	for _, b := range branches {
		if err := addVertex(b.Terminal, b.Endpoint.Kind.String()+`\n`+b.Endpoint.ID, element.KindSink); err != nil {
			return nil, errors.Wrapf(err, "endpoint %s", b.Terminal)
		}
		if prev == "" {
			continue
		}
		opts := []func(*graph.EdgeProperties){}
		if b.Queue != "" {
			opts = append(opts, graph.EdgeAttribute("label", b.Queue))
		}
		if err := g.AddEdge(prev, b.Terminal, opts...); err != nil {
			return nil, errors.Wrapf(err, "link %s -> %s", prev, b.Terminal)
		}
	}
	return g, nil
}

// Order returns the vertices in topological order, stages first then endpoints
func (d *Description) Order() ([]string, error) {
	return graph.StableTopologicalSort(d.graph, func(a, b string) bool { return a < b })
}

// WriteDot renders the stage graph in DOT format
func (d *Description) WriteDot(w io.Writer) error {
	return draw.DOT(d.graph, w, draw.GraphAttribute("label", d.name), draw.GraphAttribute("rankdir", "LR"))
}

// WriteDotFile writes <dir>/<name>.stages.dot and returns its path
func (d *Description) WriteDotFile(dir string) (string, error) {
	path := filepath.Join(dir, d.name+".stages.dot")
	f, err := os.Create(path)
	if err != nil {
		return "", errors.Wrap(err, "composer: create stage graph file")
	}
	defer f.Close()

	if err := d.WriteDot(f); err != nil {
		return "", errors.Wrap(err, "composer: render stage graph")
	}
	return path, nil
}
