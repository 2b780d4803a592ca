package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jsndz/petbus/logger"
	"github.com/jsndz/petbus/pkg/catalog"
	"github.com/jsndz/petbus/pkg/config"
	"github.com/jsndz/petbus/pkg/gateway"
	"github.com/jsndz/petbus/pkg/policy"
	"github.com/jsndz/petbus/pkg/simulate"
)

type submitFunc func(ctx context.Context, in gateway.SubmitInput) (string, error)

func run(cmd *cobra.Command, args []string) error {
	logr, err := logger.InitLogger()
	if err != nil {
		return err
	}
	defer logr.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	cat, err := config.BuildCatalog(cfg, logr)
	if err != nil {
		return err
	}
	ids := catalog.Default().IDs()
	if s, ok := cat.(*catalog.Static); ok && len(s.IDs()) > 0 {
		ids = s.IDs()
	}

	var submit submitFunc
	if target != "" {
		submit = httpSubmitter(strings.TrimRight(target, "/"))
	} else {
		if cfg.Broker.Driver == "memory" {
			return fmt.Errorf("the memory broker is process-local; use --url against a gateway instead")
		}
		b, err := config.BuildBroker(cfg, logr)
		if err != nil {
			return err
		}
		defer b.Close()
		svc := gateway.New(config.BuildGatewayConfig(cfg), b, logger.Named(logr, "simulator"))
		defer svc.Close()
		if err := svc.Declare(ctx); err != nil {
			return err
		}
		submit = func(ctx context.Context, in gateway.SubmitInput) (string, error) {
			r, err := svc.Submit(ctx, in)
			return r.RequestID, err
		}
	}

	gen := simulate.NewGenerator(policy.NewRand(seed), ids)
	failures := 0
	for i := 0; i < count; i++ {
		in := gen.Next()
		id, err := submit(ctx, in)
		if err != nil {
			failures++
			logr.Error("Submission failed", zap.String("pet_id", in.PetID), zap.Error(err))
		} else {
			logr.Info("Adoption request submitted",
				zap.String("request_id", id),
				zap.String("pet_id", in.PetID),
				zap.String("requester_id", in.RequesterID),
			)
		}
		if i < count-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d submissions failed", failures, count)
	}
	return nil
}

func httpSubmitter(base string) submitFunc {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, in gateway.SubmitInput) (string, error) {
		body, err := json.Marshal(map[string]any{
			"pet_id":         in.PetID,
			"requester_id":   in.RequesterID,
			"requester_name": in.RequesterName,
			"attributes":     in.Attributes,
		})
		if err != nil {
			return "", err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/adoptions", bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Requester-ID", in.RequesterID)

		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()

		var out struct {
			RequestID string `json:"request_id"`
			Error     string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&out)
		if resp.StatusCode != http.StatusAccepted {
			return "", fmt.Errorf("gateway returned %d: %s", resp.StatusCode, out.Error)
		}
		return out.RequestID, nil
	}
}
