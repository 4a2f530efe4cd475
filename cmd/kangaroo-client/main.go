// Command kangaroo-client is a reference compute client: a second binary
// that talks to kangaroo-coordinatord over HTTP. It is not a curve-walking
// client — real curve walking is out of scope here — it is a deterministic
// test/demo client that drives a synthetic walk generator seeded from the
// tame-wild round-trip identity, so that running two instances with
// complementary --role flags against one running kangaroo-coordinatord
// reliably produces a real, verifiable collision end to end.
package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/rckangaroo/coordinator/internal/curveoracle"
	"github.com/rckangaroo/coordinator/internal/httpclient"
)

var cli struct {
	Coordinator string        `help:"Base URL of the running kangaroo-coordinatord." default:"http://127.0.0.1:8080" env:"KANGAROO_COORDINATOR"`
	ClientID    string        `help:"Client identifier reported to the coordinator." required:"" env:"KANGAROO_CLIENT_ID"`
	Role        string        `help:"Which leg of the tame-wild identity this instance walks." enum:"tame,wild1,wild2" required:""`
	K           string        `help:"Hex scalar offset the identity is built around (shared across cooperating instances)." default:"2a"`
	Tame        string        `help:"Hex tame distance t (only meaningful for --role=tame, but shared so wild instances can derive w)." default:"40"`
	X           string        `help:"Hex distinguished-point fingerprint both instances must agree on to collide." default:"aa"`
	Configure   bool          `help:"Configure the search before walking. Exactly one cooperating instance should pass this."`
	Start       string        `help:"configure: hex range_start." default:"0"`
	End         string        `help:"configure: hex range_end." default:"100"`
	DPBits      int           `help:"configure: dp_bits." default:"4"`
	RangeSize   string        `help:"configure: hex chunk size." default:"40"`
	Wait        bool          `help:"Poll status after submitting until the search is solved." default:"true"`
	WaitTimeout time.Duration `help:"Maximum time to poll when --wait is set." default:"10s"`
}

func main() {
	kong.Parse(&cli,
		kong.Name("kangaroo-client"),
		kong.Description("Reference compute client for a kangaroo-coordinatord search."),
	)

	ctx, cancel := context.WithTimeout(context.Background(), cli.WaitTimeout+10*time.Second)
	defer cancel()

	c := httpclient.New(cli.Coordinator)
	k, ok := httpclient.ParseHexScalar(cli.K)
	if !ok {
		fatalf("invalid --k %q", cli.K)
	}

	if cli.Configure {
		if err := doConfigure(ctx, c, k); err != nil {
			fatalf("configure: %v", err)
		}
	}

	bitRange, err := claimBitRange(ctx, c)
	if err != nil {
		fatalf("get_work: %v", err)
	}

	d, walkType, err := syntheticDistance(cli.Role, k, bitRange, curveoracle.Order)
	if err != nil {
		fatalf("%v", err)
	}

	res, err := c.SubmitPoints(ctx, cli.ClientID, []httpclient.Point{
		{XCoord: cli.X, Distance: d.Text(16), KangType: walkType},
	})
	if err != nil {
		fatalf("submit_points: %v", err)
	}
	if res.Solved() {
		fmt.Printf("search solved: %s\n", res.Solution)
		return
	}
	fmt.Printf("submitted %s point d=%s at x=%s, accepted=%d\n", cli.Role, d.Text(16), cli.X, res.PointsProcessed)

	if cli.Wait {
		waitForSolution(ctx, c)
	}
}

// doConfigure derives a pubkey that is actually k·G (via the production
// curve oracle) so that a real Secp256k1Oracle-backed coordinator verifies
// the synthetic collision, not just a StubOracle-backed one.
func doConfigure(ctx context.Context, c *httpclient.Client, k *big.Int) error {
	oracle := curveoracle.NewSecp256k1Oracle()
	x, y := oracle.ScalarMul(k)
	pub := oracle.Compress(x, y)
	if pub == nil {
		return fmt.Errorf("could not derive demo pubkey for k=%s", k.Text(16))
	}

	ok, msg, err := c.Configure(ctx, httpclient.ConfigureRequest{
		StartRange: cli.Start,
		EndRange:   cli.End,
		PubKey:     fmt.Sprintf("%x", pub),
		DPBits:     cli.DPBits,
		RangeSize:  cli.RangeSize,
	})
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rejected: %s", msg)
	}
	return nil
}

// claimBitRange pulls one chunk (exercising get_work the way a real
// walker would before starting) purely to read back the configured
// bit_range; the client does not otherwise care which chunk it claimed.
func claimBitRange(ctx context.Context, c *httpclient.Client) (int, error) {
	chunk, err := c.GetWork(ctx, cli.ClientID)
	if err != nil {
		return 0, err
	}
	if chunk != nil {
		return chunk.BitRange, nil
	}
	// No pending chunk (already solved, or the ledger is exhausted) — fall
	// back to status, which still carries dp_bits/search_range but not
	// bit_range directly, so derive it from range_start/range_end.
	st, err := c.GetStatus(ctx)
	if err != nil {
		return 0, err
	}
	start, ok1 := httpclient.ParseHexScalar(st.SearchRange.Start)
	end, ok2 := httpclient.ParseHexScalar(st.SearchRange.End)
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("search not configured yet")
	}
	return bitRangeFor(start, end), nil
}

func bitRangeFor(start, end *big.Int) int {
	width := new(big.Int).Sub(end, start)
	if width.Sign() <= 0 {
		return 0
	}
	bits := width.BitLen()
	if new(big.Int).Lsh(big.NewInt(1), uint(bits-1)).Cmp(width) == 0 {
		return bits - 1
	}
	return bits
}

// syntheticDistance implements the tame-wild round-trip identity: for
// role=tame it just reports --tame; for role=wild1/wild2 it derives w from
// t, k, and H so that feeding (t, TAME) and (w, WILDi) at the same x
// recovers k + range_start, which is exactly k for the default --start of 0.
func syntheticDistance(role string, k *big.Int, bitRange int, order *big.Int) (*big.Int, int, error) {
	t, ok := httpclient.ParseHexScalar(cli.Tame)
	if !ok {
		return nil, 0, fmt.Errorf("invalid --tame %q", cli.Tame)
	}
	if bitRange <= 0 {
		return nil, 0, fmt.Errorf("could not determine bit_range")
	}
	h := new(big.Int).Lsh(big.NewInt(1), uint(bitRange-1))
	mod := func(v *big.Int) *big.Int { return new(big.Int).Mod(v, order) }

	switch role {
	case "tame":
		return mod(t), 0, nil
	case "wild1":
		// w1 = t - k + H
		w := new(big.Int).Sub(t, k)
		w.Add(w, h)
		return mod(w), 1, nil
	case "wild2":
		// w2 = 2*(t - k + H); the resolver recovers t - w/2 via integer
		// (right-shift) division, so w must stay even going out — Mod by
		// an odd order can flip parity, so reduce before doubling instead.
		w := mod(new(big.Int).Sub(t, k))
		w.Add(w, h)
		w.Lsh(w, 1)
		return w, 2, nil
	default:
		return nil, 0, fmt.Errorf("unknown --role %q", role)
	}
}

func waitForSolution(ctx context.Context, c *httpclient.Client) {
	deadline := time.Now().Add(cli.WaitTimeout)
	for time.Now().Before(deadline) {
		st, err := c.GetStatus(ctx)
		if err == nil && st.Solved {
			fmt.Printf("search solved: %s\n", st.Solution)
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Println("search not yet solved when --wait-timeout elapsed")
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "kangaroo-client: "+format+"\n", args...)
	os.Exit(1)
}
