package membership

import "slices"

// Transitions lists the commands each phase accepts. Transport commands are
// accepted everywhere since the connection can change under any phase.
var Transitions = map[Phase][]CommandType{
	PhaseIdle:      {CmdEnter, CmdLeave, CmdTransportOpen, CmdTransportClosed},
	PhaseJoining:   {CmdEnter, CmdLeave, CmdTransportOpen, CmdTransportClosed},
	PhaseJoined:    {CmdEnter, CmdLeave, CmdTransportOpen, CmdTransportClosed},
	PhaseRejoining: {CmdEnter, CmdLeave, CmdTransportOpen, CmdTransportClosed},
	PhaseLeaving:   {CmdEnter, CmdLeaveComplete, CmdTransportOpen, CmdTransportClosed},
}

func allowed(p Phase, cmd CommandType) bool {
	return slices.Contains(Transitions[p], cmd)
}
