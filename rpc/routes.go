package rpc

import rpc "github.com/tendermint/tendermint/rpc/jsonrpc/server"

var Routes = map[string]*rpc.RPCFunc{
	"round":         rpc.NewRPCFunc(Round, ""),
	"vote_status":   rpc.NewRPCFunc(VoteStatus, ""),
	"round_members": rpc.NewRPCFunc(RoundMembers, "index,start"),
	"credit":        rpc.NewRPCFunc(Credit, "address,round"),
	"headers":       rpc.NewRPCFunc(Headers, "minHeight,maxHeight"),
	"punish_logs":   rpc.NewRPCFunc(PunishLogs, "address,limit"),
	"net_info":      rpc.NewRPCFunc(NetInfo, ""),
	"metrics":       rpc.NewRPCFunc(JSONMetrics, "label"),
}
