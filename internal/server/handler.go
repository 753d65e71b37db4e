package server

import (
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
)

var errUnsupported = errors.New("not supported by this server")

// handle executes one client command. Errors are reported back to the
// sending client only.
func (s *Server) handle(raw []byte) error {
	cmd, err := DecodeCommand(raw)
	if err != nil {
		return err
	}

	switch cmd.Type {
	case CmdWrite:
		attr, data, err := cmd.Endpoint()
		if err != nil {
			return err
		}
		return s.writer.Write(attr, data)

	case CmdRunScript:
		if s.scripts == nil {
			return fmt.Errorf("%s: %w", cmd.Type, errUnsupported)
		}
		name := cmd.Name
		if name == "" {
			name = "websocket"
		}
		go func() {
			if err := s.scripts.Run(s.ctx, name, cmd.Script); err != nil {
				s.logger.Warn().Err(err).Str("script", name).Msg("Script failed")
			}
		}()
		return nil

	case CmdStopScript:
		if s.scripts == nil {
			return fmt.Errorf("%s: %w", cmd.Type, errUnsupported)
		}
		s.scripts.Stop()
		return nil

	case CmdAddSchedule:
		if s.schedules == nil {
			return fmt.Errorf("%s: %w", cmd.Type, errUnsupported)
		}
		if _, err := s.schedules.Add(cmd.Name, cmd.Spec, cmd.Script); err != nil {
			return err
		}
		s.Hub.Broadcast(NewMessage(MsgScheduleList, s.schedules.Entries()))
		return nil

	case CmdRemoveSchedule:
		if s.schedules == nil {
			return fmt.Errorf("%s: %w", cmd.Type, errUnsupported)
		}
		if !s.schedules.Remove(cron.EntryID(cmd.ID)) {
			return fmt.Errorf("no schedule with id %d", cmd.ID)
		}
		s.Hub.Broadcast(NewMessage(MsgScheduleList, s.schedules.Entries()))
		return nil

	default:
		return fmt.Errorf("unknown command type %q", cmd.Type)
	}
}
