package protocol

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// newRequest builds a message addressed to a node with a request ID.
func newRequest(msgType MessageType, id, node string, data interface{}) (*Message, error) {
	msg, err := NewMessage(msgType, data)
	if err != nil {
		return nil, err
	}
	msg.ID = id
	msg.Node = node
	return msg, nil
}

// NewHelloMessage creates the handshake message
func NewHelloMessage(id, password, client string) (*Message, error) {
	return newRequest(TypeHello, id, "", HelloData{Password: password, Client: client})
}

// NewListNodesMessage asks for the node list
func NewListNodesMessage(id string) (*Message, error) {
	return newRequest(TypeListNodes, id, "", nil)
}

// NewLockMessage asks for exclusive control of a node
func NewLockMessage(id, node string) (*Message, error) {
	return newRequest(TypeLock, id, node, nil)
}

// NewUnlockMessage releases a node
func NewUnlockMessage(id, node string) (*Message, error) {
	return newRequest(TypeUnlock, id, node, nil)
}

// NewCompileMessage sends program source to a node
func NewCompileMessage(id, node, program string) (*Message, error) {
	return newRequest(TypeCompile, id, node, CompileData{Program: program})
}

// NewRunMessage runs the last compiled program on a node
func NewRunMessage(id, node string) (*Message, error) {
	return newRequest(TypeRun, id, node, nil)
}

// NewSetVariablesMessage writes variables on a node
func NewSetVariablesMessage(id, node string, vars map[string][]int) (*Message, error) {
	return newRequest(TypeSetVariables, id, node, SetVariablesData{Variables: vars})
}

// NewWelcomeMessage accepts a hello
func NewWelcomeMessage(id string, nodes []NodeInfo) (*Message, error) {
	return newRequest(TypeWelcome, id, "", NodesData{Nodes: nodes})
}

// NewNodesMessage lists nodes. An empty id marks an unsolicited change event.
func NewNodesMessage(id string, nodes []NodeInfo) (*Message, error) {
	return newRequest(TypeNodes, id, "", NodesData{Nodes: nodes})
}

// NewAckMessage confirms a request
func NewAckMessage(id, node string) (*Message, error) {
	return newRequest(TypeAck, id, node, nil)
}

// NewErrorMessage rejects a request
func NewErrorMessage(id, node, message string) (*Message, error) {
	return newRequest(TypeError, id, node, ErrorData{Message: message})
}

// NewVariablesMessage creates a variable change notification
func NewVariablesMessage(node string, vars map[string][]float64) (*Message, error) {
	return newRequest(TypeVariables, "", node, VariablesData{Variables: vars})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetHelloData extracts hello data from a message
func (m *Message) GetHelloData() (*HelloData, error) {
	var data HelloData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetNodesData extracts the node list from a welcome or nodes message
func (m *Message) GetNodesData() (*NodesData, error) {
	var data NodesData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetCompileData extracts program source from a message
func (m *Message) GetCompileData() (*CompileData, error) {
	var data CompileData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSetVariablesData extracts variable writes from a message
func (m *Message) GetSetVariablesData() (*SetVariablesData, error) {
	var data SetVariablesData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetErrorData extracts the error text from a message
func (m *Message) GetErrorData() (*ErrorData, error) {
	var data ErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetVariablesData extracts a variable batch from a message
func (m *Message) GetVariablesData() (*VariablesData, error) {
	var data VariablesData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
