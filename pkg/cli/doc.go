// Package cli holds the terminal side of the sully commands: output
// formatting for stored conversations, transcript rendering, and the live
// view shown while the interpreter runs.
//
// Example usage:
//
//	list, err := store.List(ctx)
//	if err != nil {
//	    return err
//	}
//	return cli.Output(cli.ConversationTable(list), cli.OutputOptions{
//	    Format: cli.FormatTable,
//	})
package cli
