package nn

import (
	"math/rand"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// layer is a fully connected layer: x*W + b.
type layer struct {
	w *tensor.Dense
	b *tensor.Dense
}

func newLayer(rng *rand.Rand, in, out int) layer {
	return layer{w: glorot(rng, in, out), b: zeros(1, out)}
}

func (l layer) clone() layer {
	return layer{w: cloneTensor(l.w), b: cloneTensor(l.b)}
}

func (l layer) parameters(prefix string) []Parameter {
	return []Parameter{{Name: prefix + ".w", Value: l.w}, {Name: prefix + ".b", Value: l.b}}
}

func (l layer) bind(g *gorgonia.ExprGraph, prefix string) (w, b *gorgonia.Node) {
	w = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(l.w.Shape()...), gorgonia.WithName(prefix+".w"), gorgonia.WithValue(l.w))
	b = gorgonia.NewMatrix(g, tensor.Float64, gorgonia.WithShape(l.b.Shape()...), gorgonia.WithName(prefix+".b"), gorgonia.WithValue(l.b))
	return w, b
}

func (l layer) forward(g *gorgonia.ExprGraph, prefix string, x *gorgonia.Node) (*gorgonia.Node, gorgonia.Nodes, error) {
	w, b := l.bind(g, prefix)
	xw, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, nil, err
	}
	out, err := gorgonia.BroadcastAdd(xw, b, nil, []byte{0})
	if err != nil {
		return nil, nil, err
	}
	return out, gorgonia.Nodes{w, b}, nil
}

// DenseActor is a one hidden layer policy. It scores every non-cash asset and the cash
// position, then a softmax over all of them yields the allocation; only the non-cash
// weights are returned, cash being the remainder.
type DenseActor struct {
	name   string
	config Config
	hidden layer
	assets layer
	cash   layer
}

func NewDenseActor(name string, config Config) (*DenseActor, error) {
	if config.Device == "" {
		config.Device = CPU
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(config.Seed))
	in := config.Features() + config.Assets
	return &DenseActor{
		name:   name,
		config: config,
		hidden: newLayer(rng, in, config.Hidden),
		assets: newLayer(rng, config.Hidden, config.Assets),
		cash:   newLayer(rng, config.Hidden, 1),
	}, nil
}

func (a *DenseActor) Parameters() []Parameter {
	params := a.hidden.parameters(a.name + ".hidden")
	params = append(params, a.assets.parameters(a.name+".assets")...)
	return append(params, a.cash.parameters(a.name+".cash")...)
}

func (a *DenseActor) CopyFrom(src Module) error {
	return Copy(a, src)
}

func (a *DenseActor) Clone() Actor {
	return &DenseActor{
		name:   a.name,
		config: a.config,
		hidden: a.hidden.clone(),
		assets: a.assets.clone(),
		cash:   a.cash.clone(),
	}
}

func (a *DenseActor) Forward(g *gorgonia.ExprGraph, window, prior *gorgonia.Node, train bool) (*gorgonia.Node, gorgonia.Nodes, error) {
	batch := window.Shape()[0]

	x, err := gorgonia.Concat(1, window, prior)
	if err != nil {
		return nil, nil, err
	}
	if train && a.config.Dropout > 0 {
		if x, err = gorgonia.Dropout(x, a.config.Dropout); err != nil {
			return nil, nil, err
		}
	}

	h, hiddenNodes, err := a.hidden.forward(g, a.name+".hidden", x)
	if err != nil {
		return nil, nil, err
	}
	if h, err = gorgonia.Tanh(h); err != nil {
		return nil, nil, err
	}

	scores, assetNodes, err := a.assets.forward(g, a.name+".assets", h)
	if err != nil {
		return nil, nil, err
	}
	cashScore, cashNodes, err := a.cash.forward(g, a.name+".cash", h)
	if err != nil {
		return nil, nil, err
	}

	// softmax over [cash, assets...], keeping the asset columns
	expScores := gorgonia.Must(gorgonia.Exp(scores))
	expCash := gorgonia.Must(gorgonia.Exp(cashScore))
	total := gorgonia.Must(gorgonia.Sum(expScores, 1))
	total = gorgonia.Must(gorgonia.Reshape(total, tensor.Shape{batch, 1}))
	total = gorgonia.Must(gorgonia.Add(total, expCash))
	weights, err := gorgonia.BroadcastHadamardDiv(expScores, total, nil, []byte{1})
	if err != nil {
		return nil, nil, err
	}

	learnables := append(hiddenNodes, assetNodes...)
	return weights, append(learnables, cashNodes...), nil
}

// DenseCritic is a one hidden layer action-value function over (window, prior, action).
type DenseCritic struct {
	name   string
	config Config
	hidden layer
	value  layer
}

func NewDenseCritic(name string, config Config) (*DenseCritic, error) {
	if config.Device == "" {
		config.Device = CPU
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(config.Seed + 1))
	in := config.Features() + 2*config.Assets
	return &DenseCritic{
		name:   name,
		config: config,
		hidden: newLayer(rng, in, config.Hidden),
		value:  newLayer(rng, config.Hidden, 1),
	}, nil
}

func (c *DenseCritic) Parameters() []Parameter {
	return append(c.hidden.parameters(c.name+".hidden"), c.value.parameters(c.name+".value")...)
}

func (c *DenseCritic) CopyFrom(src Module) error {
	return Copy(c, src)
}

func (c *DenseCritic) Clone() Critic {
	return &DenseCritic{
		name:   c.name,
		config: c.config,
		hidden: c.hidden.clone(),
		value:  c.value.clone(),
	}
}

func (c *DenseCritic) Forward(g *gorgonia.ExprGraph, window, prior, action *gorgonia.Node) (*gorgonia.Node, gorgonia.Nodes, error) {
	x, err := gorgonia.Concat(1, window, prior, action)
	if err != nil {
		return nil, nil, err
	}

	h, hiddenNodes, err := c.hidden.forward(g, c.name+".hidden", x)
	if err != nil {
		return nil, nil, err
	}
	if h, err = gorgonia.Rectify(h); err != nil {
		return nil, nil, err
	}

	q, valueNodes, err := c.value.forward(g, c.name+".value", h)
	if err != nil {
		return nil, nil, err
	}
	return q, append(hiddenNodes, valueNodes...), nil
}
