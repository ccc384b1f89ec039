// Package process holds the data model shared by the engine and the nodes it
// runs: process and node references, copy-on-write instance state, events,
// the closed action algebra, incidents, and the Executable contract together
// with the backend interfaces (scripts, conditions, services, rules) a node may
// delegate to through its Environment.
//
// A node never changes engine state directly. It returns a new State and an
// ordered list of actions:
//
//	func (t *approve) Execute(ctx context.Context, s process.State, env process.Environment) (process.State, []process.Action, error) {
//	    if !env.Resumed() {
//	        return s, []process.Action{process.QueueAction{
//	            ID: t.ID(), SaveState: true, Consumable: true,
//	            Event: process.Message("approval", s.InstanceID, nil),
//	        }}, nil
//	    }
//	    return s.Merge(env.Resume.Payload), []process.Action{process.Complete(t.ID())}, nil
//	}
package process
