// Package toxfile runs chunked, flow-controlled file transfers between peers.
//
// A Node binds the transfer engine from the file package to a packet
// transport. Each peer address becomes a friend with a small numeric ID, and
// every transfer is identified by friend, file number and direction.
//
// # Getting Started
//
//	options := toxfile.NewNodeOptions()
//	options.ListenAddr = ":33445"
//	options.DownloadDir = "/var/lib/toxfile"
//
//	node, err := toxfile.New(options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer node.Close()
//
//	node.Engine().OnComplete(func(t *file.Transfer, err error) {
//	    fmt.Printf("%s: %s\n", t.FileName, t.State)
//	})
//
//	ctx, cancel := context.WithCancel(context.Background())
//	defer cancel()
//	go node.Run(ctx)
//
//	friendID, err := node.AddPeerByAddress("192.0.2.10:33445")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	id, err := node.FileSend(ctx, friendID, "report.pdf")
//
// # Incoming Files
//
// Offers of data files are accepted automatically and written to
// DownloadDir/friend_<id>/<name>, with path separators in the offered name
// replaced by underscores. Avatars are declined.
//
// # Controlling Transfers
//
//	node.FileControl(ctx, id, file.ControlPause)
//	node.FileControl(ctx, id, file.ControlResume)
//	node.FileControl(ctx, id, file.ControlCancel)
//
// Either side may pause, resume or cancel. A cancelled transfer is gone on
// both sides; its file number is never reused for the same friend.
//
// # Concurrency
//
// Node methods are safe for concurrent use. Engine callbacks run on the
// goroutine calling Run.
package toxfile
