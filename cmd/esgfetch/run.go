package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/warpdl/esgfetch/internal/catalog"
	"github.com/warpdl/esgfetch/internal/engine"
	"github.com/warpdl/esgfetch/internal/hostpool"
	"github.com/warpdl/esgfetch/internal/httpsession"
	"github.com/warpdl/esgfetch/internal/worker"
	"github.com/warpdl/esgfetch/internal/writer"
	"github.com/warpdl/esgfetch/pkg/logger"
)

var barStyle = mpb.BarStyle().Lbound("╢").Filler("█").Tip("█").Padding("░").Rbound("╟")

func runCommand(ctx *cli.Context) error {
	store, err := catalog.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer store.Close()

	w := writer.New(writer.DefaultMaxQueueLen)
	pool := hostpool.New(threadsPerHost, func(datanode string) (*httpsession.Session, error) {
		return httpsession.New(httpsession.Config{
			CredentialsPath: credentialsPath,
			VerifyTLS:       verifyTLS,
		})
	})
	auth := &engine.FileAuthenticator{CredentialsPath: credentialsPath}
	lg := logger.NewStandardLogger(log.Default())

	eng := engine.New(store, pool, w, auth, lg, engine.Config{
		BasePath:  basePath,
		GlobalMax: maxThreads,
	})

	p := mpb.New(mpb.WithWidth(64))
	bars := map[int64]*mpb.Bar{}
	totals := map[int64]int64{}
	go renderProgress(eng.Subscribe(), p, bars, totals)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sigCh
		fmt.Println("\nesgfetch: finishing in-flight transfers, press Ctrl-C again to abort")
		cancel()
		<-sigCh
		eng.StopNow()
	}()

	err = eng.Run(runCtx)
	p.Wait()
	return err
}

// renderProgress drives one mpb.Bar per active transfer from the
// engine's event tee. It never touches the catalog; it is a CLI nicety
// layered on top of the same events the engine already applies.
func renderProgress(events <-chan engine.Event, p *mpb.Progress, bars map[int64]*mpb.Bar, totals map[int64]int64) {
	for ev := range events {
		id, datanode := ev.TransferInfo()
		name := datanode + "/" + strconv.FormatInt(id, 10)

		switch v := ev.(type) {
		case worker.EventLength:
			totals[id] = v.ContentLength
			bars[id] = p.New(v.ContentLength,
				barStyle,
				mpb.PrependDecorators(
					decor.Name(name, decor.WC{W: len(name) + 1, C: decor.DidentRight}),
				),
				mpb.AppendDecorators(
					decor.EwmaSpeed(decor.SizeB1024(0), "% .2f", 30),
				),
			)
		case worker.EventSpeed:
			if b, ok := bars[id]; ok {
				b.IncrBy(v.BytesRead)
			}
		case worker.EventDone:
			if b, ok := bars[id]; ok {
				b.SetCurrent(totals[id])
				delete(bars, id)
				delete(totals, id)
			}
		case worker.EventAborted, worker.EventError:
			if b, ok := bars[id]; ok {
				b.Abort(true)
				delete(bars, id)
				delete(totals, id)
			}
		}
	}
}
