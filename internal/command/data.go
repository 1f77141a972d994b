package command

import (
	"encoding/hex"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"golang.org/x/crypto/blake2b"
	"gonum.org/v1/gonum/stat"

	"github.com/coralsh/coral/internal/types"
)

// DataCommands returns the data-wrangling command set.
func DataCommands() []Command {
	return []Command{mathCmd{}, hashCmd{}, newFetchCmd()}
}

type mathCmd struct{}

func (mathCmd) Name() string        { return "math" }
func (mathCmd) Description() string { return "aggregate numbers from arguments or the piped value" }

// Execute computes one aggregate (sum, mean, median, stddev, variance,
// min, max) over its numeric arguments, or over the piped value when no
// numbers are given.
func (mathCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	if len(args) == 0 {
		return nil, types.Syntaxf("usage: math op [numbers...]")
	}
	op := args[0]

	var xs []float64
	for _, arg := range args[1:] {
		f, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return nil, types.Syntaxf("math: not a number: %q", arg)
		}
		xs = append(xs, f)
	}
	if len(xs) == 0 && cctx.Input != nil {
		var err error
		xs, err = numbersFrom(cctx.Input)
		if err != nil {
			return nil, err
		}
	}
	if len(xs) == 0 {
		return nil, types.Syntaxf("math %s: no numbers", op)
	}

	switch op {
	case "sum":
		total := 0.0
		for _, x := range xs {
			total += x
		}
		return narrowFloat(total), nil
	case "mean":
		return types.Float(stat.Mean(xs, nil)), nil
	case "median":
		sorted := append([]float64(nil), xs...)
		sort.Float64s(sorted)
		return types.Float(stat.Quantile(0.5, stat.Empirical, sorted, nil)), nil
	case "stddev":
		return types.Float(stat.StdDev(xs, nil)), nil
	case "variance":
		return types.Float(stat.Variance(xs, nil)), nil
	case "min":
		m := xs[0]
		for _, x := range xs[1:] {
			m = math.Min(m, x)
		}
		return narrowFloat(m), nil
	case "max":
		m := xs[0]
		for _, x := range xs[1:] {
			m = math.Max(m, x)
		}
		return narrowFloat(m), nil
	default:
		return nil, types.Syntaxf("math: unknown op %q", op)
	}
}

// numbersFrom extracts numeric leaves from a piped value.
func numbersFrom(v types.Value) ([]float64, error) {
	switch val := v.(type) {
	case types.Int:
		return []float64{float64(val)}, nil
	case types.Float:
		return []float64{float64(val)}, nil
	case types.String:
		// External output arrives as text; accept whitespace-separated
		// numbers.
		var xs []float64
		for _, field := range strings.Fields(string(val)) {
			f, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, types.Syntaxf("math: not a number: %q", field)
			}
			xs = append(xs, f)
		}
		return xs, nil
	case types.List:
		var xs []float64
		for _, item := range val {
			sub, err := numbersFrom(item)
			if err != nil {
				return nil, err
			}
			xs = append(xs, sub...)
		}
		return xs, nil
	default:
		return nil, types.Syntaxf("math: cannot read numbers from %T", v)
	}
}

func narrowFloat(f float64) types.Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return types.Int(int64(f))
	}
	return types.Float(f)
}

type hashCmd struct{}

func (hashCmd) Name() string        { return "hash" }
func (hashCmd) Description() string { return "BLAKE2b-256 digest of arguments or the piped value" }

func (hashCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	var data []byte
	switch {
	case len(args) == 1:
		data = []byte(args[0])
	case len(args) == 0 && cctx.Input != nil:
		data = []byte(cctx.Input.Text())
	default:
		return nil, types.Syntaxf("usage: hash [text]")
	}

	sum := blake2b.Sum256(data)
	return types.String(hex.EncodeToString(sum[:])), nil
}

type fetchCmd struct {
	client *resty.Client
}

// newFetchCmd builds the shared client. No retries: a second attempt on
// an interactive builtin would double the worst-case latency silently.
func newFetchCmd() fetchCmd {
	return fetchCmd{client: resty.New()}
}

func (fetchCmd) Name() string        { return "fetch" }
func (fetchCmd) Description() string { return "HTTP GET a URL; -j decodes a JSON body" }

func (c fetchCmd) Execute(args []string, cctx *Context) (types.Value, error) {
	decodeJSON := false
	var url string
	for _, arg := range args {
		if arg == "-j" {
			decodeJSON = true
			continue
		}
		if url != "" {
			return nil, types.Syntaxf("usage: fetch [-j] url")
		}
		url = arg
	}
	if url == "" {
		return nil, types.Syntaxf("usage: fetch [-j] url")
	}

	resp, err := c.client.R().SetContext(cctx.Ctx).Get(url)
	if err != nil {
		return nil, types.IO("fetch "+url, err)
	}
	body := resp.Body()
	if resp.IsError() {
		return nil, types.Otherf("fetch %s: %s", url, resp.Status())
	}

	if decodeJSON {
		var decoded any
		if err := sonic.Unmarshal(body, &decoded); err != nil {
			return nil, types.Parsef("fetch %s: bad json: %v", url, err)
		}
		return types.FromPlain(decoded), nil
	}
	return types.String(body), nil
}
