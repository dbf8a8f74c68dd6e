// Package orchestrator implements PVNOrchestrator (spec §4.3): the
// top-level driver of port creation, parallel container starts, steering
// assembly, and compensating teardown, plus GatewaySeeder's startup side
// effect (spec §6). Fan-out/join follows spec §9's "Background tasks over
// green threads" note: container starts join on an errgroup.Group, which
// stops at the first error; teardown deletes run as independent goroutines
// on a sync.WaitGroup, where one failed delete does not stop the others.
// Teardown waits for all of its deletes to finish before it finalizes the
// PVN and returns.
package orchestrator

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ethan-vanderheijden/pvn-project/pkg/apperr"
	"github.com/ethan-vanderheijden/pvn-project/pkg/config"
	"github.com/ethan-vanderheijden/pvn-project/pkg/containerrt"
	"github.com/ethan-vanderheijden/pvn-project/pkg/log"
	"github.com/ethan-vanderheijden/pvn-project/pkg/metrics"
	"github.com/ethan-vanderheijden/pvn-project/pkg/netapi"
	"github.com/ethan-vanderheijden/pvn-project/pkg/pvnmodel"
	"github.com/ethan-vanderheijden/pvn-project/pkg/pvnvalidator"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringplugin"
	"github.com/ethan-vanderheijden/pvn-project/pkg/steeringstore"
	"github.com/ethan-vanderheijden/pvn-project/pkg/types"
	"golang.org/x/sync/errgroup"
)

const (
	containerPollInterval = 100 * time.Millisecond
	containerPollAttempts = 20
	containerStopTimeout  = 3 * time.Second
)

// Orchestrator is PVNOrchestrator.
type Orchestrator struct {
	cfg          config.Config
	model        *pvnmodel.Model
	netAPI       netapi.NetworkAPI
	containerAPI containerrt.ContainerAPI
	plugin       *steeringplugin.Plugin
}

// New wires an Orchestrator over its collaborators.
func New(cfg config.Config, model *pvnmodel.Model, netAPI netapi.NetworkAPI, containerAPI containerrt.ContainerAPI, plugin *steeringplugin.Plugin) *Orchestrator {
	return &Orchestrator{cfg: cfg, model: model, netAPI: netAPI, containerAPI: containerAPI, plugin: plugin}
}

// Initialize is the synchronous portion of spec §4.3's initialize: it
// validates, reserves an id, and schedules provisioning on a background
// goroutine before returning.
func (o *Orchestrator) Initialize(ctx context.Context, clientIP string, raw pvnvalidator.RawDescription) (int64, error) {
	ethertype, err := deriveEthertype(clientIP)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}

	desc, err := pvnvalidator.Validate(raw)
	if err != nil {
		return 0, err
	}

	if _, err := o.model.GetByClientIP(clientIP); err == nil {
		return 0, apperr.ErrDuplicateClient
	}

	id, err := o.model.Reserve(clientIP, ethertype)
	if err != nil {
		return 0, err
	}

	go o.start(id, clientIP, ethertype, desc)
	return id, nil
}

func deriveEthertype(clientIP string) (types.Ethertype, error) {
	ip := net.ParseIP(clientIP)
	if ip == nil {
		return types.EthertypeNone, fmt.Errorf("invalid client_ip: %s", clientIP)
	}
	if ip.To4() != nil {
		return types.EthertypeIPv4, nil
	}
	return types.EthertypeIPv6, nil
}

// start is the background provisioning task (spec §4.3's _start). Any
// failure anywhere triggers a forced teardown of whatever was partially
// installed.
func (o *Orchestrator) start(id int64, clientIP string, ethertype types.Ethertype, desc types.PVNDescription) {
	ctx := context.Background()
	logger := log.WithPVNID(id)
	timer := metrics.NewTimer()

	fail := func(stage string, err error) {
		logger.Error().Err(err).Str("stage", stage).Msg("provisioning failed, tearing down")
		metrics.PVNProvisioningFailuresTotal.WithLabelValues(stage).Inc()
		o.Teardown(ctx, id, true)
	}

	ports, err := o.createPorts(ctx, id, desc)
	if err != nil {
		fail("create_ports", err)
		return
	}

	containerIDs, err := o.startContainers(ctx, desc, ports, clientIP)
	if err != nil {
		fail("start_containers", err)
		return
	}
	if err := o.model.SetApps(id, containerIDs); err != nil {
		fail("set_apps", err)
		return
	}

	ruleIDs, err := o.assembleSteering(desc, clientIP, ethertype, ports)
	if err != nil {
		fail("assemble_steering", err)
		return
	}
	if err := o.model.SetSteerings(id, ruleIDs); err != nil {
		fail("set_steerings", err)
		return
	}

	timer.ObserveDuration(metrics.PVNProvisioningDuration)
	logger.Info().Msg("pvn is active")
}

func (o *Orchestrator) createPorts(ctx context.Context, id int64, desc types.PVNDescription) ([]netapi.Port, error) {
	ports := make([]netapi.Port, len(desc.Apps))
	for i := range desc.Apps {
		name := fmt.Sprintf("pvn.%d.app.%d", id, i)
		port, err := o.netAPI.CreatePort(ctx, name, o.cfg.Network.ID)
		if err != nil {
			return nil, fmt.Errorf("%w: create_port %s: %v", apperr.ErrTransientProvisioning, name, err)
		}
		if err := o.plugin.RegisterPort(steeringstore.Port{ID: port.ID, MAC: port.MAC}); err != nil {
			return nil, fmt.Errorf("%w: register_port %s: %v", apperr.ErrTransientProvisioning, port.ID, err)
		}
		ports[i] = port
	}

	ids := make([]string, len(ports))
	for i, p := range ports {
		ids[i] = p.ID
	}
	if err := o.model.SetPorts(id, ids); err != nil {
		return nil, err
	}
	return ports, nil
}

// startContainers launches one container per app in parallel, joined by
// an errgroup barrier (spec §9's joined fan-out point), each polling its
// own status until it leaves creating/created.
func (o *Orchestrator) startContainers(ctx context.Context, desc types.PVNDescription, ports []netapi.Port, clientIP string) ([]string, error) {
	containerIDs := make([]string, len(desc.Apps))

	g, gctx := errgroup.WithContext(ctx)
	for i, app := range desc.Apps {
		i, app := i, app
		g.Go(func() error {
			args := append(append([]string(nil), app.Args...), clientIP)
			ctr, err := o.containerAPI.Run(gctx, app.Image, args)
			if err != nil {
				return fmt.Errorf("%w: run app %d: %v", apperr.ErrTransientProvisioning, i, err)
			}

			if err := o.pollUntilSettled(gctx, ctr.ID); err != nil {
				return err
			}

			containerIDs[i] = ctr.ID
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return containerIDs, nil
}

func (o *Orchestrator) pollUntilSettled(ctx context.Context, containerID string) error {
	ticker := time.NewTicker(containerPollInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < containerPollAttempts; attempt++ {
		ctr, err := o.containerAPI.Get(ctx, containerID)
		if err != nil {
			return fmt.Errorf("%w: poll container %s: %v", apperr.ErrTransientProvisioning, containerID, err)
		}
		if ctr.Status != containerrt.StatusCreating && ctr.Status != containerrt.StatusCreated {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%w: container %s did not leave creating/created after %d attempts", apperr.ErrTransientProvisioning, containerID, containerPollAttempts)
}

// Teardown implements spec §4.3's teardown(pvn_id, force). Per spec §9's
// "State-machine race" note, this is a single write-protected transition
// (PVNModel.BeginTeardown) followed by a post-transition dispatch, not two
// separate lock acquisitions.
func (o *Orchestrator) Teardown(ctx context.Context, id int64, force bool) error {
	status, err := o.model.Status(id)
	if err != nil {
		if apperr.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return err
	}
	if status == types.StatusDeleted {
		return nil
	}

	prevStatus, err := o.model.BeginTeardown(id)
	if err != nil {
		return err
	}

	if !force && prevStatus != types.StatusActive {
		return nil
	}

	snapshot, err := o.model.Get(id)
	if err != nil {
		return err
	}

	timer := metrics.NewTimer()
	o.deleteResourcesIndependently(ctx, snapshot)
	timer.ObserveDuration(metrics.PVNTeardownDuration)

	return o.model.Finalize(id)
}

// deleteResourcesIndependently spawns one goroutine per resource and waits
// for all of them to finish before returning. Individual failures are
// logged and suppressed (spec §7: compensating teardown is best-effort).
func (o *Orchestrator) deleteResourcesIndependently(ctx context.Context, pvn *types.PVN) {
	var wg sync.WaitGroup
	logger := log.WithPVNID(pvn.ID)

	for _, ruleID := range pvn.Steering {
		ruleID := ruleID
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.plugin.Delete(ruleID); err != nil {
				logger.Warn().Err(err).Str("rule_id", ruleID).Msg("failed to delete steering rule during teardown")
			}
		}()
	}

	for _, containerID := range pvn.Apps {
		containerID := containerID
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.containerAPI.Stop(ctx, containerID, containerStopTimeout); err != nil {
				logger.Warn().Err(err).Str("container_id", containerID).Msg("failed to stop container during teardown")
			}
		}()
	}

	for _, portID := range pvn.Ports {
		portID := portID
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.netAPI.DeletePort(ctx, portID); err != nil {
				logger.Warn().Err(err).Str("port_id", portID).Msg("failed to delete port during teardown")
			}
			if err := o.plugin.DeregisterPort(portID); err != nil {
				logger.Warn().Err(err).Str("port_id", portID).Msg("failed to deregister port during teardown")
			}
		}()
	}

	wg.Wait()
}
