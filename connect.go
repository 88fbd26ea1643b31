package espflash

import (
	"time"

	"github.com/golang/glog"
	"github.com/romflash/espflash/protoutil"
	"github.com/romflash/espflash/reset"
	"github.com/romflash/espflash/serialport"
	"github.com/romflash/espflash/slip"
	"github.com/romflash/espflash/spiflash"
	"github.com/romflash/espflash/stub"
	"github.com/romflash/espflash/target"
	"github.com/romflash/espflash/transport"
)

var strategies = []reset.Strategy{reset.Classic, reset.UsbJtagSerial}

// AutoConnect walks the cross product of candidate ports and reset
// strategies, locks onto the first responder, resolves its target
// family, uploads the stub, rebauds, and populates Info. On any failure
// it leaves the session Idle with the port closed.
func (s *Session) AutoConnect(port string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()

	ports := []string{port}
	if port == "" {
		ports = reversed(s.GetPorts())
	}

	adapter, strat, foundPort, err := probe(ports, s.opts)
	if err != nil {
		return err
	}
	s.port = adapter
	s.strategy = strat
	s.baud = probeBaud

	s.port.Drain(s.opts.DrainWindow)
	s.tr = transport.New(s.port)

	value, err := s.ReadReg(target.DetectMagicRegAddr)
	if err != nil || value == 0 {
		glog.Errorf("connect: magic read failed: %v", err)
		s.closeLocked()
		return Fail(KindUnknownChip, "connect: no response from detect register", err)
	}
	desc := target.Identify(value)
	if desc == nil {
		s.closeLocked()
		return Fail(KindUnknownChip, "connect: unrecognized magic value", nil)
	}
	s.target = desc

	ramBlock := desc.RAMBlock(s)
	if err := stub.Upload(s.tr, desc, ramBlock); err != nil {
		glog.Errorf("connect: stub upload failed: %v", err)
		s.closeLocked()
		return Fail(KindStubUploadFailed, "connect: stub upload failed", err)
	}

	if err := s.rebaud(); err != nil {
		glog.Errorf("connect: rebaud failed: %v", err)
		s.closeLocked()
		return Fail(KindRebaudFailed, "connect: rebaud failed", err)
	}

	if err := s.identify(foundPort); err != nil {
		glog.Errorf("connect: identity query failed: %v", err)
		s.closeLocked()
		return err
	}

	s.info.Connected = true
	return nil
}

// rebaud asks the stub to switch its UART divider, then flips the host
// baud to the same value and confirms the link survived by re-reading
// the detect register.
func (s *Session) rebaud() error {
	newBaud := s.opts.RebaudTarget
	payload := protoutil.LE32(nil, newBaud)
	payload = protoutil.LE32(payload, s.baud)
	if _, err := s.tr.Send(protoutil.OpChangeBaud, payload, 0, s.opts.ControlTimeout); err != nil {
		return err
	}
	if err := s.port.SetBaud(newBaud); err != nil {
		return err
	}
	s.baud = newBaud
	time.Sleep(50 * time.Millisecond)
	s.port.Drain(s.opts.DrainWindow)

	value, err := s.ReadReg(target.DetectMagicRegAddr)
	if err != nil {
		return err
	}
	if !s.target.MagicMatches(value) {
		return Fail(KindRebaudFailed, "detect register mismatch after rebaud", nil)
	}
	return nil
}

func (s *Session) identify(port string) error {
	desc, err := s.target.Describe(s)
	if err != nil {
		return err
	}
	features, err := s.target.Features(s)
	if err != nil {
		return err
	}
	runner := spiflash.NewRunner(s, s.target.Regs)
	flashSize, err := runner.GetFlashSize()
	if err != nil {
		return err
	}
	s.info.ComPort = port
	s.info.ChipFamily = s.target.Name
	s.info.ChipDescription = desc
	s.info.ChipFeatures = features
	s.info.FlashSize = flashSize
	return nil
}

// probe opens each candidate port and tries each reset strategy, sending
// up to opts.SyncAttempts sync bursts per combination; more than 50 bytes
// back within the sync window is treated as acceptance.
func probe(ports []string, opts *Options) (*serialport.Adapter, reset.Strategy, string, error) {
	for _, port := range ports {
		for _, strat := range strategies {
			adapter, err := serialport.OpenAdapter(port, probeBaud)
			if err != nil {
				glog.V(1).Infof("connect: open %s failed: %v", port, err)
				continue
			}
			if err := reset.ToBoot(adapter, strat, time.Sleep); err != nil {
				adapter.Close()
				continue
			}
			if syncOnce(adapter, opts) {
				return adapter, strat, port, nil
			}
			adapter.Close()
		}
	}
	return nil, 0, "", Fail(KindSyncTimeout, "connect: no target responded to sync", nil)
}

func syncOnce(adapter *serialport.Adapter, opts *Options) bool {
	frame := slip.EncodeCommand(protoutil.OpSync, protoutil.SyncBody(), 0)
	for i := 0; i < opts.SyncAttempts; i++ {
		if _, err := adapter.Write(frame); err != nil {
			return false
		}
		adapter.SetDeadline(opts.SyncTimeout)
		buf := make([]byte, 256)
		total := 0
		deadline := time.Now().Add(opts.SyncTimeout)
		for time.Now().Before(deadline) {
			n, err := adapter.Read(buf)
			total += n
			if n == 0 || err != nil {
				break
			}
		}
		if total > 50 {
			return true
		}
	}
	return false
}

func reversed(in []string) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}
