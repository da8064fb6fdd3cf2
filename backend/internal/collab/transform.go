package collab

// TransformOperation 把 op 依次对齐到 concurrent 中的每个操作之后。
// concurrent 必须按服务端应用顺序（revision 升序）传入。
// 不同路径上的操作天然可交换，不做任何调整；
// 同路径上按对方引入的尺寸增量平移 position/length。
// Insert-vs-Insert 在同一位置的并列，按 (timestamp, clientId) 升序决出先后，
// 所有客户端据此收敛到同一顺序，无需额外通信。
func TransformOperation(op Operation, concurrent []Operation) Operation {
	out := op
	for _, c := range concurrent {
		if !out.Path.Equal(c.Path) {
			continue
		}
		out = transformOnce(out, c)
	}
	return out
}

// transformOnce 推导 OT 菱形的下边：out 已知 c 先行应用后应变成什么。
func transformOnce(out, c Operation) Operation {
	switch c.Kind {
	case OpInsert:
		d := c.insertSize()
		// 并列裁决只用于 Insert-vs-Insert；对 delete/update 来说，
		// 同位置的先行插入总是把后续操作向右推。
		tieWins := out.Kind != OpInsert || before(c, out)
		if c.Position < out.Position || (c.Position == out.Position && tieWins) {
			out.Position += d
		} else if out.Kind == OpDelete && c.Position > out.Position && c.Position < out.Position+out.deleteSize() {
			// 对方插到了待删区间内部：删除区间扩张，把插入内容一并覆盖
			out.Length = out.deleteSize() + d
		}
	case OpDelete:
		d := c.deleteSize()
		cEnd := c.Position + d
		switch {
		case cEnd <= out.Position:
			// 整段删除发生在 out 之前，向前平移
			out.Position -= d
		case c.Position >= out.Position+maxInt(out.deleteSize(), 0) && out.Kind == OpDelete:
			// 删除发生在 out 之后，互不影响
		case out.Kind == OpDelete:
			// 两段删除重叠：各自缩短重叠部分（goatee 式重叠处理）
			outEnd := out.Position + out.deleteSize()
			overlap := minInt(outEnd, cEnd) - maxInt(out.Position, c.Position)
			if overlap > 0 {
				remaining := out.deleteSize() - overlap
				out.Length = maxInt(remaining, 0)
				if remaining <= 0 {
					// 整段已被对方删光。Length 归零不能直接落到 apply：
					// Length==0 是“删整个节点”的编码，会把字段本身删掉。
					// 显式标记为无操作，revision 照常推进。
					out.Noop = true
				}
			}
			if c.Position < out.Position {
				out.Position = c.Position
			}
		case c.Position < out.Position:
			// out 的位置落在被删区间内：收拢到删除起点
			out.Position = c.Position
		}
	case OpUpdate:
		// 整值替换不携带位置信息，不平移
	}
	return out
}

// before 报告 a 是否在确定性并列裁决中排在 b 之前。
func before(a, b Operation) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ClientID < b.ClientID
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
