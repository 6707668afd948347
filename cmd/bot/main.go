package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxelwire.io/internal/client"
	"voxelwire.io/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url (ignored when -tcp is set)")
		tcpAddr  = flag.String("tcp", "", "raw tcp address, e.g. localhost:7070")
		user     = flag.String("user", "bot", "username")
		password = flag.String("password", "bot", "password")
		register = flag.Bool("register", false, "register the user before logging in")
		every    = flag.Duration("every", 2*time.Second, "time between dig/place rounds")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := dial(dialCtx, *url, *tcpAddr, logger)
	cancel()
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer c.Close()

	authCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	if *register {
		if err := c.Register(authCtx, *user, *password); err != nil {
			cancel()
			logger.Fatalf("register: %v", err)
		}
	}
	if err := c.Login(authCtx, *user, *password); err != nil {
		cancel()
		logger.Fatalf("login: %v", err)
	}
	cancel()
	st := c.State()
	logger.Printf("logged in session=%s pos=%+v hotbar_view=%d", c.SessionID(), st.Position.Position, st.HotbarViewID)

	if *tcpAddr != "" {
		if cat, err := c.Catalog(); err == nil {
			if blocks, err := cat.GetBlockDefs(); err == nil {
				logger.Printf("block catalog: %d defs digest=%s", len(blocks.Blocks), blocks.Digest)
			}
			_ = cat.Close()
		}
	}

	r := rand.New(rand.NewSource(time.Now().UnixNano()))
	t := time.NewTicker(*every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.Done():
			logger.Printf("session ended: %v", c.Err())
			return
		case <-t.C:
		}
		if err := round(ctx, c, st.Position, r, logger); err != nil {
			var rej *client.RejectedError
			if errors.As(err, &rej) {
				logger.Printf("rejected: %s %s", rej.Code, rej.Message)
				continue
			}
			logger.Printf("round: %v", err)
			return
		}
	}
}

func dial(ctx context.Context, url, tcpAddr string, logger *log.Logger) (*client.Client, error) {
	if tcpAddr != "" {
		return client.DialTCP(ctx, tcpAddr, logger)
	}
	return client.DialWS(ctx, url, logger)
}

// round walks to a random spot near home, digs the top block there and fills
// the hole from hotbar slot 0.
func round(ctx context.Context, c *client.Client, home protocol.PlayerPosition, r *rand.Rand, logger *log.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pos := home
	pos.Position.X += float64(r.Intn(9) - 4)
	pos.Position.Z += float64(r.Intn(9) - 4)
	if err := c.Do(ctx, func() (uint64, error) { return c.Update(&pos, 0) }); err != nil {
		return err
	}

	feet := pos.Position.BlockCoord()
	top, ok := surface(c, feet.X, feet.Z, feet.Y+protocol.ChunkSize)
	if !ok {
		logger.Printf("no loaded ground under %v", feet)
		return nil
	}
	id, _ := c.Block(top)
	if err := c.Do(ctx, func() (uint64, error) { return c.Dig(top, 0) }); err != nil {
		return err
	}
	if err := c.WaitBlock(ctx, top, 0); err != nil {
		return err
	}
	below := top
	below.Y--
	if err := c.Do(ctx, func() (uint64, error) { return c.Place(top, below, 0) }); err != nil {
		return err
	}
	logger.Printf("dug block %d at %v and placed from slot 0", id, top)
	return nil
}

// surface scans down from y for the first non-air block in loaded chunks.
func surface(c *client.Client, x, z, y int32) (protocol.BlockCoord, bool) {
	for i := 0; i < 4*protocol.ChunkSize; i++ {
		b := protocol.BlockCoord{X: x, Y: y - int32(i), Z: z}
		id, ok := c.Block(b)
		if ok && id != 0 {
			return b, true
		}
	}
	return protocol.BlockCoord{}, false
}
