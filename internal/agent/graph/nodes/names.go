package nodes

// Graph node keys.
const (
	NodeLoadConversation = "load_conversation"
	NodeReason           = "reason"
	NodeDispatchTools    = "dispatch_tools"
	NodePreparePurchase  = "prepare_purchase"
	NodeExecutePurchase  = "execute_purchase"
	NodeMergeResults     = "merge_results"
	NodeFinalize         = "finalize"
)
